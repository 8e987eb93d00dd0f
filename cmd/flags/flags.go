package flags

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/common"
	"github.com/ruteri/mpc-rendezvous/healthcheck"
	"github.com/ruteri/mpc-rendezvous/interfaces"
	"github.com/ruteri/mpc-rendezvous/signup"
	"github.com/ruteri/mpc-rendezvous/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// ListenAddress combines the listen address and port flags. The port flag, when
// set, replaces any port in the address, so ADDR=0.0.0.0 PORT=8000 works too.
func ListenAddress(cCtx *cli.Context) (string, error) {
	addr := cCtx.String(ListenAddrFlag.Name)
	port := cCtx.Uint(ListenPortFlag.Name)

	host, addrPort, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address, the whole value is the host
		host, addrPort = addr, ""
	}
	if port != 0 {
		addrPort = strconv.FormatUint(uint64(port), 10)
	}
	if addrPort == "" {
		return "", fmt.Errorf("missing port: set --%s or include it in --%s", ListenPortFlag.Name, ListenAddrFlag.Name)
	}
	return net.JoinHostPort(host, addrPort), nil
}

// SetupStore opens the key-value store named by the store flag, using the
// Vault credentials from the vault flags when they are set.
func SetupStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.KVStore, error) {
	location, err := interfaces.NewKVStoreLocation(cCtx.String(StoreFlag.Name))
	if err != nil {
		return nil, err
	}

	factory := storage.NewKVStoreFactory(logger).WithVaultToken(cCtx.String(VaultTokenFlag.Name))

	var storeFactory interfaces.KVStoreFactory = factory
	certFile := cCtx.String(VaultClientCertFlag.Name)
	keyFile := cCtx.String(VaultClientKeyFlag.Name)
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("both --%s and --%s are required for certificate auth", VaultClientCertFlag.Name, VaultClientKeyFlag.Name)
		}
		storeFactory = factory.WithTLSAuth(func() (tls.Certificate, error) {
			return tls.LoadX509KeyPair(certFile, keyFile)
		})
	}

	kv, err := storeFactory.KVStoreFor(location)
	if err != nil {
		return nil, err
	}
	logger.Info("Opened store", "store", kv.Name(), "location", kv.LocationURI())
	return kv, nil
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8000",
	Usage:   "address to listen on for API",
	EnvVars: []string{"MULTIPARTY_COMMUNICATION_ADDR"},
}
var ListenPortFlag = &cli.UintFlag{
	Name:    "listen-port",
	Usage:   "port to listen on for API, overrides the port in --listen-addr",
	EnvVars: []string{"MULTIPARTY_COMMUNICATION_PORT"},
}

var StoreFlag = &cli.StringFlag{
	Name:    "store",
	Value:   "mem://",
	Usage:   "key-value store URI: mem://, bolt:///path/store.db, vault://host:8200/mount/path, s3://bucket/prefix",
	EnvVars: []string{"RENDEZVOUS_STORE"},
}

var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Usage:   "token used to authenticate to Vault",
	EnvVars: []string{"VAULT_TOKEN"},
}
var VaultClientCertFlag = &cli.StringFlag{
	Name:    "vault-client-cert",
	Usage:   "PEM client certificate for Vault cert auth",
	EnvVars: []string{"VAULT_CLIENT_CERT"},
}
var VaultClientKeyFlag = &cli.StringFlag{
	Name:    "vault-client-key",
	Usage:   "PEM private key for Vault cert auth",
	EnvVars: []string{"VAULT_CLIENT_KEY"},
}

var StoreRetryCountFlag = &cli.Uint64Flag{
	Name:    "store-retry-count",
	Value:   5,
	Usage:   "retries of the startup health record write",
	EnvVars: []string{"VAULT_RETRY_COUNT"},
}

var JoinRetriesFlag = &cli.Uint64Flag{
	Name:  "join-retries",
	Value: signup.DefaultMaxRetries,
	Usage: "compare-and-swap retries of a join before it fails as busy",
}

var HealthcheckKeyFlag = &cli.StringFlag{
	Name:  "healthcheck-key",
	Value: healthcheck.DefaultKey,
	Usage: "store key of the health record written at startup",
}

var ServerURLFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8000",
	Usage:   "rendezvous server base URL",
	EnvVars: []string{"RENDEZVOUS_URL"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var StoreFlags = []cli.Flag{
	StoreFlag,
	VaultTokenFlag,
	VaultClientCertFlag,
	VaultClientKeyFlag,
	StoreRetryCountFlag,
}
