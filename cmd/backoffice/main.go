package main

import (
	"github.com/denismitr/respimg/cmd/initialize"
	"github.com/denismitr/respimg/internal/backoffice"
	"github.com/labstack/echo/v4"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	c := initialize.Wire()
	defer c.Close()

	service := backoffice.NewDerivativeService(c.Transformer, c.Backend)
	server := backoffice.NewServer(echo.New(), c.Settings.Backoffice.Port, service, c.Logger)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGTERM, syscall.SIGINT)

	if err := server.Run(stopCh, 10*time.Second); err != nil {
		c.Logger.Fatalln(err)
	}
}
