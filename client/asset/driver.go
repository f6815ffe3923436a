// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package asset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"decred.org/mmswap/dex"
)

var (
	driversMtx sync.RWMutex
	drivers    = make(map[string]Driver)
)

// Driver is the interface required of all chain adapters.
type Driver interface {
	Open(*WalletConfig, dex.Logger) (Wallet, error)
	Info() *WalletInfo
}

func withDriver(ticker string, f func(Driver) error) error {
	driversMtx.RLock()
	defer driversMtx.RUnlock()
	drv, ok := drivers[strings.ToUpper(ticker)]
	if !ok {
		return fmt.Errorf("asset: unknown driver %q", ticker)
	}
	return f(drv)
}

// Register should be called by the init function of an asset's package. One
// driver may be registered under several tickers.
func Register(ticker string, driver Driver) {
	driversMtx.Lock()
	defer driversMtx.Unlock()

	if driver == nil {
		panic("asset: Register driver is nil")
	}
	ticker = strings.ToUpper(ticker)
	if _, dup := drivers[ticker]; dup {
		panic(fmt.Sprint("asset: Register called twice for asset driver ", ticker))
	}
	drivers[ticker] = driver
}

// OpenWallet sets up the asset, returning the wallet.
func OpenWallet(ticker string, cfg *WalletConfig, logger dex.Logger) (w Wallet, err error) {
	return w, withDriver(ticker, func(drv Driver) error {
		if cfg.Ticker == "" {
			cfg.Ticker = strings.ToUpper(ticker)
		}
		w, err = drv.Open(cfg, logger)
		return err
	})
}

// Info returns the WalletInfo for the specified asset, if supported.
func Info(ticker string) (info *WalletInfo, err error) {
	return info, withDriver(ticker, func(drv Driver) error {
		info = drv.Info()
		return nil
	})
}

// Tickers lists the registered tickers.
func Tickers() []string {
	driversMtx.RLock()
	defer driversMtx.RUnlock()
	tickers := make([]string, 0, len(drivers))
	for t := range drivers {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
