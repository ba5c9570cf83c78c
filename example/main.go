package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/l00pss/redisclient"
)

func main() {
	cfg := redisclient.DefaultSyncConfig()
	cfg.CommandTimeout = 2 * time.Second

	client := redisclient.NewSyncFacade(cfg)
	client.InstallErrorHandler(func(err error) {
		log.Printf("[redisclient] unrouted error: %v", err)
	})

	if err := client.ConnectErr(redisclient.TCPEndpoint("127.0.0.1:6379")); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	fmt.Println("connected, state:", client.State())

	if reply, err := client.CommandErr("SET", "greeting", "hello from redisclient"); err != nil {
		log.Fatalf("SET: %v", err)
	} else {
		fmt.Println("SET ->", reply.Inspect())
	}

	if reply, err := client.CommandErr("GET", "greeting"); err != nil {
		log.Fatalf("GET: %v", err)
	} else {
		fmt.Println("GET ->", reply.Inspect())
	}

	batch := client.NewPipeline().
		Command("INCR", "visits").
		Command("INCR", "visits").
		Command("GET", "visits")
	if result, err := batch.FinishErr(); err != nil {
		log.Fatalf("pipeline: %v", err)
	} else {
		fmt.Println("pipeline ->", result.Inspect())
	}

	async := redisclient.NewAsyncFacade(redisclient.DefaultAsyncConfig())
	done := make(chan struct{})
	async.Connect(redisclient.TCPEndpoint("127.0.0.1:6379"), func(err error) {
		if err != nil {
			log.Printf("async connect: %v", err)
			close(done)
			return
		}
		async.Subscribe("notifications", func(payload []byte) {
			if payload == nil {
				fmt.Println("subscription released: connection closed")
				return
			}
			fmt.Printf("notifications -> %s\n", payload)
		}, func(ack redisclient.Value) {
			fmt.Println("SUBSCRIBE ack ->", ack.Inspect())
			close(done)
		})
	})
	<-done
	defer async.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	fmt.Println("waiting for Ctrl-C to exit...")
	<-sig
	fmt.Println("shutting down")
}
