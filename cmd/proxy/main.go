package main

import (
	"context"
	"github.com/denismitr/respimg/cmd/initialize"
	"github.com/denismitr/respimg/internal/proxy"
	"github.com/denismitr/respimg/internal/responsive"
	"github.com/denismitr/respimg/internal/watcher"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	c := initialize.Wire()
	defer c.Close()

	prefix, err := url.PathUnescape(c.Layout.CacheURLPrefix())
	if err != nil {
		panic(err)
	}

	derivatives := proxy.NewOnTheFlyDerivativeProxy(c.Logger, c.Transformer, c.Store)
	server := proxy.NewServer(proxy.Config{
		Port:           c.Settings.Proxy.Port,
		ReadTimeout:    c.Settings.Proxy.ReadTimeout,
		WriteTimeout:   c.Settings.Proxy.WriteTimeout,
		CacheURLPrefix: prefix,
	}, c.Logger, derivatives)

	if c.Transformer.Staleness() == responsive.StalenessWatch {
		w, err := watcher.New(c.Layout, c.Transformer, c.Settings.Watcher.Debounce, c.Logger)
		if err != nil {
			panic(err)
		}

		if err := w.Start(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			if err := w.Run(ctx); err != nil {
				c.Logger.Errorln(err)
			}
		}()
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGTERM, syscall.SIGINT)

	if err := server.Run(stopCh, 10*time.Second); err != nil {
		c.Logger.Fatalln(err)
	}
}
