// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/msgjson"
)

// routes
const (
	bestOrdersRoute      = "best_orders"
	buyRoute             = "buy"
	cancelAllOrdersRoute = "cancel_all_orders"
	cancelOrderRoute     = "cancel_order"
	helpRoute            = "help"
	myOrdersRoute        = "my_orders"
	orderStatusRoute     = "order_status"
	orderbookRoute       = "orderbook"
	sellRoute            = "sell"
	setPriceRoute        = "setprice"
	versionRoute         = "version"
)

const successStr = "success"

// createResponse creates a msgjson response payload.
func createResponse(op string, res any, resErr *msgjson.Error) *msgjson.ResponsePayload {
	encodedRes, err := json.Marshal(res)
	if err != nil {
		err := fmt.Errorf("unable to marshal data for %s: %w", op, err)
		panic(err)
	}
	return &msgjson.ResponsePayload{Result: encodedRes, Error: resErr}
}

// usage creates and returns usage for route combined with a passed error as a
// *msgjson.ResponsePayload.
func usage(route string, err error) *msgjson.ResponsePayload {
	usage, _ := commandUsage(route)
	resErr := msgjson.NewError(msgjson.RPCArgumentsError, "%v\n\n%s", err, usage)
	return createResponse(route, nil, resErr)
}

// errorCode picks the msgjson code for an error from the engine.
func errorCode(err error) int {
	switch {
	case errors.Is(err, dex.ErrUnknownOrder):
		return msgjson.RPCUnknownOrder
	case errors.Is(err, dex.ErrNotCancellable):
		return msgjson.RPCNotCancellable
	case errors.Is(err, ordermatch.ErrInsufficientBalance):
		return msgjson.RPCBalanceError
	case errors.Is(err, dex.ErrUnknownCoin):
		return msgjson.RPCUnknownCoin
	case errors.Is(err, ordermatch.ErrInvalidArgs):
		return msgjson.RPCArgumentsError
	}
	return msgjson.RPCOrderError
}

// engineError creates the response for a failed engine call.
func engineError(route, action string, err error) *msgjson.ResponsePayload {
	resErr := msgjson.NewError(errorCode(err), "unable to %s: %v", action, err)
	return createResponse(route, nil, resErr)
}

// routes maps routes to a handler function.
var routes = map[string]func(ctx context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload{
	bestOrdersRoute:      handleBestOrders,
	buyRoute:             handleBuy,
	cancelAllOrdersRoute: handleCancelAllOrders,
	cancelOrderRoute:     handleCancelOrder,
	helpRoute:            handleHelp,
	myOrdersRoute:        handleMyOrders,
	orderStatusRoute:     handleOrderStatus,
	orderbookRoute:       handleOrderbook,
	sellRoute:            handleSell,
	setPriceRoute:        handleSetPrice,
	versionRoute:         handleVersion,
}

// handleHelp handles requests for help. Returns general help for all commands
// if no arguments are passed or verbose help if the passed argument is a known
// command.
func handleHelp(_ context.Context, _ *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form := new(helpForm)
	if err := unmarshalParams(req, form); err != nil {
		return usage(helpRoute, err)
	}
	res := ""
	if form.Cmd == "" {
		// List all commands if no arguments.
		res = ListCommands()
	} else {
		var err error
		res, err = commandUsage(form.Cmd)
		if err != nil {
			resErr := msgjson.NewError(msgjson.RPCUnknownRoute, "%v", err)
			return createResponse(helpRoute, nil, resErr)
		}
	}
	return createResponse(helpRoute, &res, nil)
}

// handleVersion handles requests for version. It returns the rpc server version
// and the application version.
func handleVersion(_ context.Context, s *RPCServer, _ *msgjson.Request) *msgjson.ResponsePayload {
	result := &VersionResponse{
		RPCServerVer: &dex.Semver{
			Major: rpcSemverMajor,
			Minor: rpcSemverMinor,
			Patch: rpcSemverPatch,
		},
	}
	if s != nil {
		result.AppVersion = s.version
	}
	return createResponse(versionRoute, result, nil)
}

// handleBuy handles requests for buy. The result is the broadcast taker
// request.
func handleBuy(ctx context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form, err := parseTradeArgs(req)
	if err != nil {
		return usage(buyRoute, err)
	}
	res, err := s.core.Buy(ctx, form)
	if err != nil {
		return engineError(buyRoute, "buy", err)
	}
	return createResponse(buyRoute, res, nil)
}

// handleSell handles requests for sell.
func handleSell(ctx context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form, err := parseTradeArgs(req)
	if err != nil {
		return usage(sellRoute, err)
	}
	res, err := s.core.Sell(ctx, form)
	if err != nil {
		return engineError(sellRoute, "sell", err)
	}
	return createResponse(sellRoute, res, nil)
}

// handleSetPrice handles requests for setprice. The result is the new maker
// order.
func handleSetPrice(ctx context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form, err := parseSetPriceArgs(req)
	if err != nil {
		return usage(setPriceRoute, err)
	}
	res, err := s.core.SetPrice(ctx, form)
	if err != nil {
		return engineError(setPriceRoute, "set price", err)
	}
	return createResponse(setPriceRoute, res, nil)
}

func handleOrderStatus(_ context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	id, err := parseUUIDArgs(req)
	if err != nil {
		return usage(orderStatusRoute, err)
	}
	res, err := s.core.OrderStatus(id)
	if err != nil {
		return engineError(orderStatusRoute, "get order status", err)
	}
	return createResponse(orderStatusRoute, res, nil)
}

// handleCancelOrder handles requests for cancel_order.
// *msgjson.ResponsePayload.Error is empty if successful.
func handleCancelOrder(_ context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	id, err := parseUUIDArgs(req)
	if err != nil {
		return usage(cancelOrderRoute, err)
	}
	if err := s.core.CancelOrder(id); err != nil {
		return engineError(cancelOrderRoute, fmt.Sprintf("cancel order %s", id), err)
	}
	return createResponse(cancelOrderRoute, &cancelResponse{Result: successStr}, nil)
}

func handleCancelAllOrders(_ context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	cancelBy, err := parseCancelAllArgs(req)
	if err != nil {
		return usage(cancelAllOrdersRoute, err)
	}
	res, err := s.core.CancelAllOrders(cancelBy)
	if err != nil {
		if errors.Is(err, ordermatch.ErrInvalidArgs) {
			return usage(cancelAllOrdersRoute, err)
		}
		return engineError(cancelAllOrdersRoute, "cancel orders", err)
	}
	return createResponse(cancelAllOrdersRoute, res, nil)
}

func handleMyOrders(_ context.Context, s *RPCServer, _ *msgjson.Request) *msgjson.ResponsePayload {
	return createResponse(myOrdersRoute, s.core.MyOrders(), nil)
}

// handleOrderbook handles requests for orderbook. The first request for a
// pair subscribes to it and waits for the relays' copy of the book.
func handleOrderbook(ctx context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form, err := parseOrderbookArgs(req)
	if err != nil {
		return usage(orderbookRoute, err)
	}
	res, err := s.core.Orderbook(ctx, form.Base, form.Rel)
	if err != nil {
		return engineError(orderbookRoute, "get orderbook", err)
	}
	return createResponse(orderbookRoute, res, nil)
}

func handleBestOrders(_ context.Context, s *RPCServer, req *msgjson.Request) *msgjson.ResponsePayload {
	form, err := parseBestOrdersArgs(req)
	if err != nil {
		return usage(bestOrdersRoute, err)
	}
	res := s.core.BestOrders(form.Coin, form.Action, form.Number)
	return createResponse(bestOrdersRoute, res, nil)
}

// format concatenates thing and tail. If thing is empty, returns an empty
// string.
func format(thing, tail string) string {
	if thing == "" {
		return ""
	}
	return fmt.Sprintf("%s%s", thing, tail)
}

// ListCommands prints a short usage string for every route available to the
// rpcserver.
func ListCommands() string {
	var sb strings.Builder
	for _, r := range sortHelpKeys() {
		msg := helpMsgs[r]
		sb.WriteString(strings.TrimSpace(r+" "+msg.argsShort) + "\n")
	}
	s := sb.String()
	// Remove trailing newline.
	return s[:len(s)-1]
}

// commandUsage returns a help message for cmd or an error if cmd is unknown.
func commandUsage(cmd string) (string, error) {
	msg, exists := helpMsgs[cmd]
	if !exists {
		return "", fmt.Errorf("%w: %s", errUnknownCmd, cmd)
	}
	return fmt.Sprintf("%s %s\n\n%s\n\n%s%s", cmd, msg.argsShort,
		msg.cmdSummary, format(msg.argsLong, "\n\n"), msg.returns), nil
}

// sortHelpKeys returns a sorted list of helpMsgs keys.
func sortHelpKeys() []string {
	keys := make([]string, 0, len(helpMsgs))
	for k := range helpMsgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type helpMsg struct {
	argsShort, cmdSummary, argsLong, returns string
}

const confsArgsLong = `
    base_confs (int): Optional. Confirmations required for the base coin
      payment. Defaults to the coin's setting.
    base_nota (bool): Optional. Whether the base coin payment needs
      notarization.
    rel_confs (int): Optional. Confirmations required for the rel coin payment.
    rel_nota (bool): Optional. Whether the rel coin payment needs
      notarization.`

const tradeArgsLong = `Args:
    base (string): The ticker of the coin to trade.
    rel (string): The ticker of the counter coin.
    price (number|string|object): The price in rel per base. A decimal
      number or string, a "numer/denom" string or a {"numer", "denom"}
      object.
    volume (number|string|object): The amount of base.
    match_by (object): Optional. {"type": "Any"|"Orders"|"Pubkeys",
      "data": [...]}. Restricts the counterparties to the listed order uuids
      or pubkeys.
    order_type (object): Optional. {"type": "GoodTillCancelled"|"FillOrKill"}.
      A GoodTillCancelled order that is not matched in 30 seconds becomes a
      maker order.` + confsArgsLong

// helpMsgs are a map of routes to help messages. They are broken down into
// four sections.
// In descending order:
//  1. Argument example inputs.
//  2. A description of the command.
//  3. An extensive breakdown of the arguments.
//  4. An extensive breakdown of the returned values.
var helpMsgs = map[string]helpMsg{
	helpRoute: {
		argsShort:  `{"cmd"}`,
		cmdSummary: `Print a help message.`,
		argsLong: `Args:
    cmd (string): Optional. The command to print help for.`,
		returns: `Returns:
    string: The help message for command.`,
	},
	versionRoute: {
		cmdSummary: `Print the rpcserver and application versions.`,
		returns: `Returns:
    obj: The version result.
    {
      "rpcServerVersion" (obj): {"Major", "Minor", "Patch"},
      "version" (string): The application version.
    }`,
	},
	buyRoute: {
		argsShort:  `{"base", "rel", "price", "volume", ("match_by"), ("order_type"), (confs)}`,
		cmdSummary: `Buy volume of base for at most volume*price of rel.`,
		argsLong:   tradeArgsLong,
		returns: `Returns:
    obj: The broadcast taker request, including its "uuid".`,
	},
	sellRoute: {
		argsShort:  `{"base", "rel", "price", "volume", ("match_by"), ("order_type"), (confs)}`,
		cmdSummary: `Sell volume of base for at least volume*price of rel.`,
		argsLong:   tradeArgsLong,
		returns: `Returns:
    obj: The broadcast taker request, including its "uuid".`,
	},
	setPriceRoute: {
		argsShort:  `{"base", "rel", "price", ("volume"), ("max"), ("min_volume"), ("cancel_previous"), (confs)}`,
		cmdSummary: `Place a maker order selling base for rel at price.`,
		argsLong: `Args:
    base (string): The ticker of the coin to sell.
    rel (string): The ticker of the coin to receive.
    price (number|string|object): The price in rel per base.
    volume (number|string|object): The amount of base. Required unless max
      is set.
    max (bool): Optional. Offer the whole base balance.
    min_volume (number|string|object): Optional. The smallest fill.
    cancel_previous (bool): Optional. Default is true. Cancel our other
      orders on the pair.` + confsArgsLong,
		returns: `Returns:
    obj: The new maker order.`,
	},
	orderStatusRoute: {
		argsShort:  `{"uuid"}`,
		cmdSummary: `Show one of our orders.`,
		argsLong: `Args:
    uuid (string): The order uuid.`,
		returns: `Returns:
    obj: {"type": "Maker"|"Taker", "order": obj}`,
	},
	cancelOrderRoute: {
		argsShort:  `{"uuid"}`,
		cmdSummary: `Cancel one of our orders. Orders in the middle of a match cannot be cancelled.`,
		argsLong: `Args:
    uuid (string): The order uuid.`,
		returns: `Returns:
    obj: {"result": "` + successStr + `"}`,
	},
	cancelAllOrdersRoute: {
		argsShort:  `{"cancel_by"}`,
		cmdSummary: `Cancel all of our orders, or those of a pair or a coin.`,
		argsLong: `Args:
    cancel_by (obj): {"type": "All"} or
      {"type": "Pair", "data": {"base", "rel"}} or
      {"type": "Coin", "data": {"ticker"}}`,
		returns: `Returns:
    obj: {"cancelled": [uuid], "currently_matching": [uuid]}`,
	},
	myOrdersRoute: {
		cmdSummary: `List all of our orders.`,
		returns: `Returns:
    obj: {"maker_orders": {uuid: obj}, "taker_orders": {uuid: obj}}`,
	},
	orderbookRoute: {
		argsShort:  `{"base", "rel"}`,
		cmdSummary: `Show the orderbook of a pair. The first call subscribes to the pair.`,
		argsLong: `Args:
    base (string): The base ticker.
    rel (string): The rel ticker.`,
		returns: `Returns:
    obj: The orderbook, asks and bids sorted by price, highest first.`,
	},
	bestOrdersRoute: {
		argsShort:  `{"coin", "action", ("number")}`,
		cmdSummary: `List, per counter coin, the best orders to buy or sell coin.`,
		argsLong: `Args:
    coin (string): The ticker to trade.
    action (string): "Buy" or "Sell".
    number (int): Optional. Default is 10. Orders per counter coin.`,
		returns: `Returns:
    obj: {ticker: [order]}`,
	},
}
