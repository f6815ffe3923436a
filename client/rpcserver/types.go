// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpcserver

import (
	"errors"
	"fmt"

	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/msgjson"
	"github.com/google/uuid"
)

// defaultBestOrders is the number of orders per coin that best_orders
// returns when the caller does not say.
const defaultBestOrders = 10

var (
	// errArgs is wrapped when arguments to the known command cannot be parsed.
	errArgs = errors.New("unable to parse arguments")
	// errUnknownCmd is wrapped when the command is not known.
	errUnknownCmd = errors.New("unknown command")
)

// VersionResponse holds the rpc server and application versions.
type VersionResponse struct {
	RPCServerVer *dex.Semver `json:"rpcServerVersion"`
	AppVersion   string      `json:"version"`
}

// helpForm is information necessary to obtain help.
type helpForm struct {
	Cmd string `json:"cmd"`
}

// uuidForm identifies one of our orders.
type uuidForm struct {
	UUID uuid.UUID `json:"uuid"`
}

// cancelAllForm is the cancel_all_orders input.
type cancelAllForm struct {
	CancelBy *ordermatch.CancelBy `json:"cancel_by"`
}

// orderbookForm is the orderbook input.
type orderbookForm struct {
	Base string `json:"base"`
	Rel  string `json:"rel"`
}

// bestOrdersForm is the best_orders input.
type bestOrdersForm struct {
	Coin   string                 `json:"coin"`
	Action ordermatch.TakerAction `json:"action"`
	Number int                    `json:"number"`
}

// cancelResponse is the result of cancel_order.
type cancelResponse struct {
	Result string `json:"result"`
}

// unmarshalParams decodes the request params into form, wrapping errArgs.
func unmarshalParams(req *msgjson.Request, form any) error {
	if err := req.Unmarshal(form); err != nil {
		return fmt.Errorf("%w: %v", errArgs, err)
	}
	return nil
}

func parseTradeArgs(req *msgjson.Request) (*ordermatch.TradeForm, error) {
	form := new(ordermatch.TradeForm)
	if err := unmarshalParams(req, form); err != nil {
		return nil, err
	}
	switch {
	case form.Base == "" || form.Rel == "":
		return nil, fmt.Errorf("%w: base and rel are required", errArgs)
	case form.Price == nil:
		return nil, fmt.Errorf("%w: price is required", errArgs)
	case form.Volume == nil:
		return nil, fmt.Errorf("%w: volume is required", errArgs)
	}
	return form, nil
}

func parseSetPriceArgs(req *msgjson.Request) (*ordermatch.SetPriceForm, error) {
	form := new(ordermatch.SetPriceForm)
	if err := unmarshalParams(req, form); err != nil {
		return nil, err
	}
	switch {
	case form.Base == "" || form.Rel == "":
		return nil, fmt.Errorf("%w: base and rel are required", errArgs)
	case form.Price == nil:
		return nil, fmt.Errorf("%w: price is required", errArgs)
	case !form.Max && form.Volume == nil:
		return nil, fmt.Errorf("%w: volume is required unless max is set", errArgs)
	}
	return form, nil
}

func parseUUIDArgs(req *msgjson.Request) (uuid.UUID, error) {
	form := new(uuidForm)
	if err := unmarshalParams(req, form); err != nil {
		return uuid.Nil, err
	}
	if form.UUID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: uuid is required", errArgs)
	}
	return form.UUID, nil
}

func parseCancelAllArgs(req *msgjson.Request) (*ordermatch.CancelBy, error) {
	form := new(cancelAllForm)
	if err := unmarshalParams(req, form); err != nil {
		return nil, err
	}
	if form.CancelBy == nil {
		return nil, fmt.Errorf("%w: cancel_by is required", errArgs)
	}
	return form.CancelBy, nil
}

func parseOrderbookArgs(req *msgjson.Request) (*orderbookForm, error) {
	form := new(orderbookForm)
	if err := unmarshalParams(req, form); err != nil {
		return nil, err
	}
	if form.Base == "" || form.Rel == "" {
		return nil, fmt.Errorf("%w: base and rel are required", errArgs)
	}
	return form, nil
}

func parseBestOrdersArgs(req *msgjson.Request) (*bestOrdersForm, error) {
	form := new(bestOrdersForm)
	if err := unmarshalParams(req, form); err != nil {
		return nil, err
	}
	if form.Coin == "" {
		return nil, fmt.Errorf("%w: coin is required", errArgs)
	}
	if form.Action != ordermatch.Buy && form.Action != ordermatch.Sell {
		return nil, fmt.Errorf("%w: action must be Buy or Sell", errArgs)
	}
	if form.Number < 0 {
		return nil, fmt.Errorf("%w: negative number", errArgs)
	}
	if form.Number == 0 {
		form.Number = defaultBestOrders
	}
	return form, nil
}
