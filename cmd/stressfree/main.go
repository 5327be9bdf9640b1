package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mbanedar/stressfree/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	url := flag.String("u", "", "URL to download (a trailing slash means a directory listing)")
	dest := flag.String("d", "", "Destination folder")
	username := flag.String("user", "", "Basic auth username")
	password := flag.String("pass", "", "Basic auth password")
	debug := flag.Bool("debug", false, "Enable debug output")
	flag.Parse()

	_ = godotenv.Load()

	app := app.New(*cfgFileName, app.Overrides{
		URL:         *url,
		Destination: *dest,
		Username:    *username,
		Password:    *password,
		Debug:       *debug,
	})

	done := make(chan int, 1)
	go func() {
		done <- app.Run()
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		select {
		case sig := <-c:
			switch sig {
			case syscall.SIGUSR1:
				fmt.Println("Pausing...")
				app.Pause()
			case syscall.SIGUSR2:
				fmt.Println("Resuming...")
				app.Resume()
			case syscall.SIGTERM, syscall.SIGINT:
				fmt.Println("Received termination signal. Canceling...")
				app.Cancel()
			}
		case code := <-done:
			os.Exit(code)
		}
	}
}
