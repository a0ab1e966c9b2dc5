package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/magpie-social/magpie/activitypub"
	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
	"github.com/magpie-social/magpie/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Opening database...")
	database := db.GetDB()

	keyring, err := activitypub.LoadKeyring(database, conf)
	if err != nil {
		log.Fatalln(err)
	}

	resolver := activitypub.NewResolver(activitypub.DefaultFetch(nil))
	outbox := activitypub.NewClient(conf, keyring, database)
	processor := activitypub.NewProcessor(conf, database, resolver, outbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Conf.WithAp {
		worker := activitypub.NewDeliveryWorker(conf, database, outbox)
		worker.Start(ctx)
	}

	router := web.NewRouter(conf, database, processor, outbox)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Run(conf, router); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	cancel()
}
