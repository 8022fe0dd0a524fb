// Command jobukyu runs the job queue server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webcast-io/jobukyu"
	"github.com/webcast-io/jobukyu/api"
	"github.com/webcast-io/jobukyu/mongodb"
	"github.com/webcast-io/jobukyu/mysql"
	"github.com/webcast-io/jobukyu/sqlite"
)

func main() {
	var (
		addr            = flag.String("addr", ":3800", "address the HTTP API listens on")
		store           = flag.String("store", "memory", "store backend: memory, mongodb, mysql or sqlite")
		mongodbURL      = flag.String("mongodb-url", "mongodb://localhost/jobukyu", "MongoDB URL (store=mongodb)")
		mysqlURL        = flag.String("mysql-url", "root@tcp(127.0.0.1:3306)/jobukyu?loc=UTC&parseTime=true", "MySQL DSN (store=mysql)")
		sqliteFile      = flag.String("sqlite-file", "jobukyu.db", "SQLite database file (store=sqlite)")
		authUsername    = flag.String("auth-username", "", "username for HTTP basic auth (empty disables auth)")
		authPassword    = flag.String("auth-password", "", "password for HTTP basic auth")
		shutdownTimeout = flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	)
	flag.Parse()

	zlog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobukyu: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	logger := zapLogger{zlog.Sugar()}

	st, closeStore, err := openStore(*store, *mongodbURL, *mysqlURL, *sqliteFile)
	if err != nil {
		zlog.Fatal("opening store", zap.Error(err))
	}
	defer closeStore()

	queue := jobukyu.New(
		jobukyu.SetLogger(logger),
		jobukyu.SetStore(st),
	)
	ctx := context.Background()
	if err := queue.Start(ctx); err != nil {
		zlog.Fatal("starting queue", zap.Error(err))
	}

	var options []api.ServerOption
	options = append(options, api.SetLogger(logger))
	if *authUsername != "" {
		options = append(options, api.SetBasicAuth(*authUsername, *authPassword))
	}
	server := api.New(queue, options...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("listening", zap.String("addr", *addr), zap.String("store", *store))
		return server.Serve(*addr)
	})
	g.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigc:
			zlog.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
			return ctx.Err()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		zlog.Fatal("exiting", zap.Error(err))
	}
}

func openStore(kind, mongodbURL, mysqlURL, sqliteFile string) (jobukyu.Store, func(), error) {
	switch kind {
	case "memory":
		return jobukyu.NewInMemoryStore(), func() {}, nil
	case "mongodb":
		st, err := mongodb.NewStore(mongodbURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case "mysql":
		st, err := mysql.NewStore(mysqlURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case "sqlite":
		st, err := sqlite.NewStore(sqliteFile)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", kind)
}

// zapLogger adapts a zap SugaredLogger to the jobukyu.Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Printf(format string, v ...interface{}) {
	l.s.Infof(format, v...)
}
