/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/component-base/term"
	"k8s.io/klog/v2"

	"github.com/koordinator-sh/fleet-scheduler/apis/extension"
	"github.com/koordinator-sh/fleet-scheduler/cmd/fleet-scheduler/app/options"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/apis/config"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/core"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/framework"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/metrics"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/plugins"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/reportsource"
	"github.com/koordinator-sh/fleet-scheduler/pkg/scheduler/services"
)

const shutdownTimeout = 10 * time.Second

// NewSchedulerCommand creates the fleet-scheduler command. Without a subcommand it
// serves placement requests.
func NewSchedulerCommand(ctx context.Context) *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:  extension.FleetSchedulerName,
		Long: "fleet-scheduler places virtual machine instances onto the compute hosts of a cloud fleet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
		SilenceUsage: true,
	}

	nfs := cliflag.NamedFlagSets{}
	opts.AddFlags(nfs.FlagSet("generic"))
	options.AddKlogFlags(nfs.FlagSet("logs"))
	for _, fs := range nfs.FlagSets {
		cmd.PersistentFlags().AddFlagSet(fs)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, nfs, cols)

	cmd.AddCommand(NewSelectCommand(opts))
	return cmd
}

func run(ctx context.Context, cfg *config.SchedulerConfiguration) error {
	sched, err := core.Setup(cfg, plugins.NewInTreeRegistry())
	if err != nil {
		return err
	}
	klog.InfoS("Scheduler configured", "filters", sched.Framework().FilterNames(), "weighers", len(sched.Framework().Weighers()))

	metrics.Register()
	var ttl time.Duration
	if cfg.ReportTTL != nil {
		ttl = cfg.ReportTTL.Duration
	}
	go metrics.RunHostMetricsGC(ttl, ctx.Done())

	if cfg.ReportDir != "" {
		var resync time.Duration
		if cfg.ReportResyncPeriod != nil {
			resync = cfg.ReportResyncPeriod.Duration
		}
		source := reportsource.NewFileSource(cfg.ReportDir, resync, sched.Hosts())
		go func() {
			if err := source.Run(ctx.Done()); err != nil {
				klog.ErrorS(err, "Capability report source stopped", "dir", cfg.ReportDir)
			}
		}()
	} else {
		klog.InfoS("No report directory configured, hosts must be fed through the API")
	}

	if cfg.DebugAddress == "" {
		klog.InfoS("No debug address configured, the placement API is not served")
		<-ctx.Done()
		return nil
	}
	return serve(ctx, cfg.DebugAddress, NewServicesEngine(sched))
}

// NewServicesEngine exposes the scheduler, its host states, the debug knobs and the
// metrics over HTTP.
func NewServicesEngine(sched *core.Scheduler) *services.Engine {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.GET("/metrics", gin.WrapH(legacyregistry.Handler()))

	engine := services.NewEngine(ginEngine)
	engine.RegisterPluginService(sched, core.Name)
	engine.RegisterPluginService(sched.Hosts(), core.Name)
	engine.RegisterDebugSetter("scores", framework.DebugScoresSetter)
	engine.RegisterDebugSetter("filters", framework.DebugFiltersSetter)
	return engine
}

func serve(ctx context.Context, address string, engine *services.Engine) error {
	server := &http.Server{Addr: address, Handler: engine.Handler()}
	errCh := make(chan error, 1)
	go func() {
		klog.InfoS("Serving placement API", "address", address)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("placement API server failed: %w", err)
	case <-ctx.Done():
	}

	klog.InfoS("Shutting down fleet-scheduler")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
