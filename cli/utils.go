package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/anchormap/config"
	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/mapstore"
)

// DefaultStorePath is the sqlite database used when neither a config file nor flags name a store.
const DefaultStorePath = "anchormap.db"

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

var warningColor = color.New(color.FgYellow, color.Bold)

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	warningColor.Fprint(w, "Warning: ")
	printf(w, format, a...)
}

// env is what every action needs: a logger and the optional config file.
type env struct {
	logger logging.Logger
	cfg    *config.Config
	close  func() error
}

func newEnv(c *cli.Context) (*env, error) {
	bootLogger := logging.NewLogger("anchormap")
	if c.Bool(flagDebug) {
		bootLogger = logging.NewDebugLogger("anchormap")
	}
	e := &env{logger: bootLogger, close: func() error { return nil }}
	path := c.String(flagConfig)
	if path == "" {
		return e, nil
	}
	cfg, err := config.Read(path, bootLogger)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	if !c.Bool(flagDebug) {
		logger, closer := cfg.Log.NewLogger("anchormap")
		e.logger, e.close = logger, closer.Close
	}
	return e, nil
}

func (e *env) storeConfig(c *cli.Context) mapstore.Config {
	storeCfg := mapstore.Config{Backend: mapstore.BackendSQLite, Path: DefaultStorePath}
	if e.cfg != nil {
		storeCfg = e.cfg.MapStore
	}
	if c.IsSet(flagStore) {
		storeCfg.Backend = c.String(flagStore)
	}
	if c.IsSet(flagStorePath) {
		storeCfg.Path = c.String(flagStorePath)
	}
	if c.IsSet(flagStoreURI) {
		storeCfg.URI = c.String(flagStoreURI)
	}
	if c.IsSet(flagStoreDB) {
		storeCfg.Database = c.String(flagStoreDB)
	}
	return storeCfg
}

// withStore opens the configured map store, runs f and closes the store.
func withStore(c *cli.Context, f func(e *env, store mapstore.Store) error) (err error) {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, e.close())
	}()
	store, err := mapstore.Open(c.Context, e.storeConfig(c), e.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close(c.Context))
	}()
	return f(e, store)
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() < 1 || c.Args().First() == "" {
		return "", errors.Errorf("%s is required", name)
	}
	return c.Args().First(), nil
}
