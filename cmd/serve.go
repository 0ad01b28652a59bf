package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collector/app/controller"
	grpcserver "github.com/vibast-solutions/ms-go-collector/app/grpc"
	"github.com/vibast-solutions/ms-go-collector/app/queue"
	"github.com/vibast-solutions/ms-go-collector/app/scheduler"
	"github.com/vibast-solutions/ms-go-collector/config"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start the management HTTP (Echo) server, the gRPC health server and the scheduled spool flush.",
	Run:   runServe,
}

// init registers the serve command.
func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires dependencies and starts HTTP and gRPC servers.
func runServe(_ *cobra.Command, _ []string) {
	cfg, log := loadConfig()

	p, err := buildPipeline(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to build spool pipeline: %v", err)
	}
	defer p.Close()

	if err := p.rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	healthServer := grpcserver.NewServer(p.dispatcher, log)
	producer := queue.NewFlushProducer(p.rdb)
	spoolController := controller.NewSpoolController(p.spoolService, p.dispatcher, producer, p.flagWriter(), healthServer.OnToggle, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cronDone chan struct{}
	if !strings.EqualFold(cfg.SpoolFlushSchedule, "off") {
		flushScheduler := scheduler.New(p.spoolService, cfg.SpoolFlushTimeout, log)
		if err := flushScheduler.Schedule(cfg.SpoolFlushSchedule); err != nil {
			log.Fatalf("Failed to schedule spool flush: %v", err)
		}
		cronDone = make(chan struct{})
		go func() {
			defer close(cronDone)
			_ = flushScheduler.Run(ctx)
		}()
	}

	e := setupHTTPServer(spoolController)
	grpcServer, lis := setupGRPCServer(cfg, healthServer)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
		log.Infof("Starting HTTP server on %s", httpAddr)
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		log.Infof("Starting gRPC server on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	cancel()
	if cronDone != nil {
		<-cronDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP shutdown error: %v", err)
	}
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	log.Info("Server stopped")
}

// setupHTTPServer configures the Echo HTTP server and routes.
func setupHTTPServer(spoolController *controller.SpoolController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())

	spoolController.RegisterRoutes(e.Group("/spool"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// setupGRPCServer builds the gRPC server and listener.
func setupGRPCServer(cfg *config.Config, healthServer *grpcserver.Server) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPCHost, cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.Fatalf("Failed to listen on gRPC port: %v", err)
	}

	grpcServer := grpc.NewServer()
	healthServer.Register(grpcServer)

	return grpcServer, lis
}
