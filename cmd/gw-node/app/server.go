// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/semaphore"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/utils/clock"

	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/definition/properties"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/eventlog/bolt"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/expression"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/chain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/drain"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/gateway/policy"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/health"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/metrics"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/registry"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/sharding"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/synchronizer"
	utilgrpc "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/grpc"
	utilhttp "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/http"
	logutils "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/log"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/rest"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/runnable"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/tcp"
	utiltls "github.com/gravitee-io/gravitee-api-management-sub106/pkg/util/tls"
	"github.com/gravitee-io/gravitee-api-management-sub106/pkg/versioninfo"
)

const (
	// logLevel is the default log level.
	logLevel = "warn"

	// EventLogFile is the default path to the file holding the event log.
	EventLogFile = "/var/lib/gw-node/events.db"

	// gatewayAddress is the default listen address of the traffic server.
	gatewayAddress = "0.0.0.0:8082"
	// adminAddress is the default listen address of the health and metrics server.
	adminAddress = "127.0.0.1:18082"
	// grpcAddress is the default listen address of the gRPC health server.
	grpcAddress = "127.0.0.1:18083"

	// shutdownTimeout bounds the graceful stop following the drain grace period.
	shutdownTimeout = 30 * time.Second
	// drainGracePeriod is the default time connections are given to close after a drain request.
	drainGracePeriod = 5 * time.Second
	// applyDelay is the initial delay between two attempts to apply an event.
	applyDelay = 100 * time.Millisecond
)

// Options contains everything necessary to create and run a gateway node.
type Options struct {
	// LogFile is the path to file where logs will be written.
	LogFile string
	// LogLevel is the log level.
	LogLevel string
	// LogFormat is the log format.
	LogFormat string

	// EventLogFile is the path to the bolt event log.
	EventLogFile string
	// SyncInterval is the time between two synchronization passes.
	SyncInterval time.Duration
	// PageSize is the number of events fetched per page.
	PageSize int
	// ApplyAttempts is the number of attempts to apply an event before skipping it.
	ApplyAttempts uint
	// ApplyWorkers is the number of events applied concurrently by a synchronizer.
	ApplyWorkers int
	// SyncOverlap is how far before the cursor incremental passes read again.
	SyncOverlap time.Duration
	// FetchWorkers bounds the number of concurrent fetches across synchronizers.
	FetchWorkers int
	// ShardingTags are the sharding tags of the node, comma separated.
	ShardingTags string
	// Environments are the environments the node synchronizes.
	Environments []string
	// Tenant is the tenant of the node, used to filter endpoints.
	Tenant string
	// PropertyKeyFile is the path to the key decrypting encrypted API properties.
	PropertyKeyFile string

	// GatewayAddress is the listen address of the traffic server.
	GatewayAddress string
	// AdminAddress is the listen address of the health and metrics server.
	AdminAddress string
	// GRPCAddress is the listen address of the gRPC health server.
	GRPCAddress string
	// GatewayKeepAlive is the keep-alive period of gateway client connections.
	GatewayKeepAlive time.Duration
	// TLSCertFile is the path to the certificate of the gateway traffic server.
	TLSCertFile string
	// TLSKeyFile is the path to the private key of the gateway traffic server.
	TLSKeyFile string
	// TLSClientCAFile is the path to the CA verifying client certificates.
	TLSClientCAFile string
	// DrainGracePeriod is the time given to connections to close after a drain request.
	DrainGracePeriod time.Duration
}

// AddFlags adds flags to fs and binds them to options.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogFile, "log-file", "",
		"Path to a file where logs will be written. If not specified, logs will be printed to stderr.")
	fs.StringVar(&o.LogLevel, "log-level", logLevel,
		"The log level. One of fatal, error, warn, info, debug.")
	fs.StringVar(&o.LogFormat, "log-format", logutils.FormatText,
		fmt.Sprintf("The log format. One of %s, %s.", logutils.FormatText, logutils.FormatJSON))

	fs.StringVar(&o.EventLogFile, "event-log", EventLogFile,
		"Path to the event log file.")
	fs.DurationVar(&o.SyncInterval, "sync-interval", synchronizer.DefaultInterval,
		"Time between two synchronization passes.")
	fs.IntVar(&o.PageSize, "sync-page-size", synchronizer.DefaultPageSize,
		"Number of events fetched per page.")
	fs.UintVar(&o.ApplyAttempts, "sync-apply-attempts", synchronizer.DefaultApplyAttempts,
		"Number of attempts to apply an event before skipping it.")
	fs.IntVar(&o.ApplyWorkers, "sync-apply-workers", runtime.GOMAXPROCS(0),
		"Number of events applied concurrently by each synchronizer.")
	fs.DurationVar(&o.SyncOverlap, "sync-overlap", synchronizer.DefaultOverlap,
		"How far before the last synchronized event incremental passes read again, for late committed events.")
	fs.IntVar(&o.FetchWorkers, "sync-fetch-workers", runtime.GOMAXPROCS(0),
		"Number of concurrent fetches across synchronizers.")
	fs.StringVar(&o.ShardingTags, "sharding-tags", "",
		"Comma separated sharding tags of the node. A tag prefixed with '!' excludes APIs carrying it.")
	fs.StringSliceVar(&o.Environments, "environments", nil,
		"Environments synchronized by the node. All environments if empty.")
	fs.StringVar(&o.Tenant, "tenant", "",
		"Tenant of the node. Endpoints restricted to other tenants are ignored.")
	fs.StringVar(&o.PropertyKeyFile, "property-key-file", "",
		"Path to the key decrypting encrypted API properties. The file is watched for changes.")

	fs.StringVar(&o.GatewayAddress, "gateway-address", gatewayAddress,
		"Listen address of the gateway traffic server.")
	fs.StringVar(&o.AdminAddress, "admin-address", adminAddress,
		"Listen address of the health and metrics server.")
	fs.StringVar(&o.GRPCAddress, "grpc-address", grpcAddress,
		"Listen address of the gRPC health server.")
	fs.DurationVar(&o.GatewayKeepAlive, "gateway-keep-alive", tcp.DefaultKeepAlive,
		"Keep-alive period of gateway client connections. A negative period disables keep-alives.")
	fs.StringVar(&o.TLSCertFile, "tls-cert-file", "",
		"Path to the certificate of the gateway traffic server. Plaintext if not specified.")
	fs.StringVar(&o.TLSKeyFile, "tls-key-file", "",
		"Path to the private key of the gateway traffic server.")
	fs.StringVar(&o.TLSClientCAFile, "tls-client-ca-file", "",
		"Path to the CA verifying client certificates. Client certificates are not required if not specified.")
	fs.DurationVar(&o.DrainGracePeriod, "drain-grace-period", drainGracePeriod,
		"Time given to open connections to close after a drain request.")
}

// node holds the components of a running gateway node.
type node struct {
	repository    *bolt.Repository
	registries    *registry.Registries
	reactor       *gateway.Reactor
	synchronizers *synchronizer.Manager
	coordinator   *drain.Coordinator
	checker       *health.Checker
	admin         *rest.Server
	runnables     *runnable.Manager
}

func (n *node) close() {
	n.reactor.Close()
	n.coordinator.Close()
	if err := n.repository.Close(); err != nil {
		log.Warnf("Cannot close event log: %v.", err)
	}
}

// build creates the node components. The returned node owns the event log.
func (o *Options) build(clk clock.WithTicker) (*node, error) {
	tags, err := sharding.Parse(o.ShardingTags)
	if err != nil {
		return nil, err
	}

	gatewayOpts := []utilhttp.Option{utilhttp.WithH2C()}
	if o.TLSCertFile != "" || o.TLSKeyFile != "" {
		certData, err := utiltls.ParseFiles(o.TLSCertFile, o.TLSKeyFile, o.TLSClientCAFile)
		if err != nil {
			return nil, err
		}
		gatewayOpts = append(gatewayOpts, utilhttp.WithTLS(certData.ServerConfig()))
	}

	evaluator, err := expression.NewEvaluator()
	if err != nil {
		return nil, err
	}

	runnables := runnable.NewManager()

	decrypter := properties.NewDecrypter()
	if o.PropertyKeyFile != "" {
		keyWatcher := properties.NewKeyWatcher(o.PropertyKeyFile)
		keyWatcher.AddConsumer(decrypter)
		if err := keyWatcher.ReadKeyAndUpdateConsumers(); err != nil {
			return nil, err
		}
		runnables.Add(keyWatcher)
	}

	repository, err := bolt.Open(o.EventLogFile)
	if err != nil {
		return nil, err
	}

	metrics.Register(prometheus.DefaultRegisterer)
	buildInfo := versioninfo.Get()
	metrics.RecordBuildInfo(buildInfo.Short(), buildInfo.Revision)

	registries := registry.NewRegistries()
	reactor := gateway.NewReactor(
		registries, policy.NewRegistry(), evaluator,
		gateway.WithTenant(o.Tenant),
		gateway.WithClock(clk),
		gateway.WithHooks(chain.NewTracingHook()))

	fetcher := synchronizer.NewFetcher(repository, o.PageSize)
	syncOpts := []synchronizer.Option{
		synchronizer.WithEnvironments(o.Environments...),
		synchronizer.WithApplyWorkers(o.ApplyWorkers),
		synchronizer.WithApplyRetry(o.ApplyAttempts, applyDelay),
		synchronizer.WithOverlap(o.SyncOverlap),
		synchronizer.WithClock(clk),
	}
	if o.FetchWorkers > 0 {
		syncOpts = append(syncOpts, synchronizer.WithFetchPool(semaphore.NewWeighted(int64(o.FetchWorkers))))
	}

	apiSync := synchronizer.New[*definition.Api](
		eventlog.TypeApi, fetcher,
		synchronizer.NewApiMapper(tags, decrypter),
		synchronizer.NewRegistryDeployer(registries.Apis, reactor.Validate),
		syncOpts...)
	organizationSync := synchronizer.New[*definition.Organization](
		eventlog.TypeOrganization, fetcher,
		synchronizer.NewOrganizationMapper(),
		synchronizer.NewRegistryDeployer[*definition.Organization](registries.Organizations, nil),
		syncOpts...)
	groupSync := synchronizer.New[*definition.SharedPolicyGroup](
		eventlog.TypeSharedPolicyGroup, fetcher,
		synchronizer.NewSharedPolicyGroupMapper(),
		synchronizer.NewRegistryDeployer[*definition.SharedPolicyGroup](registries.SharedPolicyGroups, nil),
		syncOpts...)
	dictionarySync := synchronizer.New[*definition.Dictionary](
		eventlog.TypeDictionary, fetcher,
		synchronizer.NewDictionaryMapper(),
		synchronizer.NewRegistryDeployer[*definition.Dictionary](registries.Dictionaries, nil),
		syncOpts...)

	synchronizers := synchronizer.NewManager(
		o.SyncInterval, clk, apiSync, organizationSync, groupSync, dictionarySync)
	runnables.Add(synchronizers)

	coordinator := drain.NewCoordinator(clk)
	coordinator.Register(metrics.RecordDrain)

	gatewayOpts = append(gatewayOpts, utilhttp.WithConnContext(coordinator.ConnContext))
	gatewayServer := utilhttp.NewServer("gateway-server", gatewayOpts...)
	gatewayServer.SetKeepAlive(o.GatewayKeepAlive)
	gatewayServer.Router().Use(coordinator.Middleware)
	gatewayServer.Router().Handle("/*", reactor)
	runnables.AddServer(o.GatewayAddress, gatewayServer)

	checker := health.NewChecker(
		health.NewApiSyncCheck(apiSync, reactor),
		health.NewSyncProcessCheck(synchronizers))

	adminServer := rest.NewServer("admin-server")
	health.NewHandler(checker, prometheus.DefaultGatherer).Register(adminServer.Router())
	addNodeInfoHandler(adminServer, o, buildInfo, coordinator)
	addNodeHandlers(adminServer, registries, reactor)
	runnables.AddServer(o.AdminAddress, adminServer)

	grpcServer := utilgrpc.NewServer("grpc-health-server")
	healthpb.RegisterHealthServer(
		grpcServer.Registrar(),
		health.NewGRPCServer(checker, health.DefaultWatchInterval, clk))
	runnables.AddServer(o.GRPCAddress, grpcServer)

	return &node{
		repository:    repository,
		registries:    registries,
		reactor:       reactor,
		synchronizers: synchronizers,
		coordinator:   coordinator,
		checker:       checker,
		admin:         adminServer,
		runnables:     runnables,
	}, nil
}

// drainAndStop waits for a termination signal, then drains connections and stops the node.
// A second signal stops the node immediately.
func (o *Options) drainAndStop(n *node, signals <-chan os.Signal) {
	sig := <-signals
	log.Infof("Received %v, draining connections for %v.", sig, o.DrainGracePeriod)

	n.coordinator.RequestDrain()

	timer := time.NewTimer(o.DrainGracePeriod)
	defer timer.Stop()

	select {
	case <-timer.C:
		if err := n.runnables.GracefulStopWithin(shutdownTimeout); err != nil {
			log.Errorf("Error stopping gateway node: %v.", err)
		}
	case sig = <-signals:
		log.Warnf("Received %v, stopping immediately.", sig)
		if err := n.runnables.Stop(); err != nil {
			log.Errorf("Error stopping gateway node: %v.", err)
		}
	}
}

// Run the gateway node.
func (o *Options) Run() error {
	// set log file
	f, err := logutils.Set(o.LogLevel, o.LogFile, o.LogFormat)
	if err != nil {
		return err
	}
	if f != nil {
		defer func() {
			if err := f.Close(); err != nil {
				log.Errorf("Cannot close log file: %v", err)
			}
		}()
	}

	n, err := o.build(clock.RealClock{})
	if err != nil {
		return err
	}
	defer n.close()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	go o.drainAndStop(n, signals)

	log.Infof("Gateway node listening on %s.", o.GatewayAddress)
	return n.runnables.Run()
}

// NewGWNodeCommand creates a *cobra.Command object with default parameters.
func NewGWNodeCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:          "gw-node",
		Long:         `gw-node: gateway node synchronizing and serving APIs`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run()
		},
	}

	opts.AddFlags(cmd.Flags())
	cmd.AddCommand(NewEventsCommand(), NewHealthCommand())

	return cmd
}
