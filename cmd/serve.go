package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crhan/planaudit/internal/api"
	"github.com/crhan/planaudit/internal/daemon"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server in the foreground",
	Long: `Start an HTTP server exposing plan audits:

  POST /api/v1/audits        run an audit
  GET  /api/v1/audits        list stored audits
  GET  /api/v1/audits/{id}   fetch one audit
  GET  /api/v1/reviewers     configured reviewers

By default it listens on 127.0.0.1:8765. Use --port to change it, or
'serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8765, "port to listen on")
	serveCmd.PersistentFlags().String("host", "127.0.0.1", "address to bind")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("host", serveCmd.PersistentFlags().Lookup("host"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "planaudit-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "planaudit-serve.log")
}

func serveAddr() string {
	host := viper.GetString("host")
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, viper.GetInt("port"))
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	runner, reviewers, err := buildRunner()
	if err != nil {
		return err
	}
	logger := getLogger()

	srv := &http.Server{
		Addr:              serveAddr(),
		Handler:           api.NewServer(runner, runner.Store(), reviewers).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ui.Info("Serving API at http://%s/api/v1", srv.Addr)
	logger.Info("api server started", "addr", srv.Addr, "reviewers", len(reviewers))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	logger.Info("api server stopping")
	return srv.Shutdown(shutdownCtx)
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("%w (pid %d)", daemon.ErrRunning, pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would start %s serve on %s (log: %s)", exe, serveAddr(), serveLogPath())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(pf.Path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve",
		"--port", strconv.Itoa(viper.GetInt("port")),
		"--host", viper.GetString("host"),
	)
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		child.Args = append(child.Args, "--config", cfgFile)
	}
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.Acquire(child.Process.Pid); err != nil {
		_ = child.Process.Kill()
		return err
	}
	_ = child.Process.Release()

	ui.Success("API server started (pid %d) on http://%s", child.Process.Pid, serveAddr())
	ui.Info("Log: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	if dryRun {
		ui.DryRunMsg("Would stop the server recorded in %s", pf.Path)
		return nil
	}
	pid, err := pf.Stop(sigTERM(), sigKILL(), shutdownGrace)
	if err != nil {
		return err
	}
	ui.Success("API server stopped (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("API server: %s", "not running")
		return nil
	}
	ui.Success("API server: running (pid %d) on http://%s", pid, serveAddr())
	return nil
}
