package main

import (
	"context"
	"flag"
	"log"
	"os"
)

func main() {
	confPath := flag.String("conf", "bodytap.conf", "Configuration file")
	flag.Parse()

	conf, err := Load(*confPath)
	if err != nil {
		log.Fatalln(err)
	}
	err = os.MkdirAll(conf.SpoolDir, 0o700)
	if err != nil {
		log.Fatalln(err)
	}
	db, err := OpenAuditLog(conf)
	if err != nil {
		log.Fatalln(err)
	}
	p := NewProxy(conf)
	s, err := NewServer(conf, db, p)
	if err != nil {
		log.Fatalln(err)
	}

	go func() {
		err := s.Serve()
		if err != nil {
			log.Fatalln(err)
		}
	}()

	err = NewSweeper(conf).Run(context.Background())
	log.Fatalln(err)
}
