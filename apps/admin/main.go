package main

import (
	"context"
	"log"
	"os"

	"github.com/liceojbh/intranet/apps/di"
	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
	logsvc "github.com/liceojbh/intranet/services/logger"
	"github.com/liceojbh/intranet/storage/database"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	logger = logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	backend, err := di.NewPostgresBackend(context.Background(), conf, logger, db)
	errAndDie(err)
	defer backend.Close()

	user.LoadCommonPasswords(logger)

	// start CLI
	cli := commandLine{
		db:      db.DB,
		c:       di.New(conf, logger, backend.Backend),
		usrRepo: backend.Repos.User,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
