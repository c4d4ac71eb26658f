package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipelinefx/render-worker/client"
	"github.com/pipelinefx/render-worker/config"
	"github.com/pipelinefx/render-worker/models"
	"github.com/pipelinefx/render-worker/registry"
	"github.com/pipelinefx/render-worker/server"
	"github.com/pipelinefx/render-worker/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "render-worker",
	Short: "Render farm coordinator and worker",
	Long:  `render-worker runs the render job coordinator and the per-machine worker that drives the engine.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job coordinator",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		var store registry.Store
		if cfg.DatabaseURL != "" {
			store, err = registry.NewPostgresStore(context.Background(), cfg.DatabaseURL)
			if err != nil {
				log.Fatalf("Failed to open job store: %v", err)
			}
			log.Println("Using Postgres job store")
		} else {
			store = registry.NewMemoryStore()
			log.Println("Using in-memory job store")
		}
		defer store.Close()

		srv := server.NewServer(store, cfg.ServerAddr)
		go func() {
			if err := srv.Start(); err != nil {
				log.Fatalf("HTTP server failed: %v", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	},
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start the render worker loop",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := cfg.ValidateWorker(); err != nil {
			log.Fatalf("Invalid worker config: %v", err)
		}

		src := client.New(cfg.ServerURL)
		driver := worker.NewDriver(
			cfg.EnginePath,
			cfg.ProjectPath,
			moduleDir(),
			cfg.HeartbeatInterval,
			cfg.RenderBaseline,
			src,
		)
		w := worker.New(cfg.WorkerName, src, driver, cfg.PollInterval)

		ctx, cancel := context.WithCancel(context.Background())
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			log.Println("Received shutdown signal, stopping worker...")
			cancel()
		}()

		w.Run(ctx)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a render request",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		workerName, _ := cmd.Flags().GetString("worker")
		umapPath, _ := cmd.Flags().GetString("map")
		useqPath, _ := cmd.Flags().GetString("sequence")
		uconfigPath, _ := cmd.Flags().GetString("preset")
		if workerName == "" || umapPath == "" || useqPath == "" || uconfigPath == "" {
			log.Fatalln("--worker, --map, --sequence and --preset are all required")
		}

		c := client.New(cfg.ServerURL)
		job, err := c.Submit(context.Background(), &models.RenderJob{
			AssignedWorker: workerName,
			UmapPath:       umapPath,
			UseqPath:       useqPath,
			UconfigPath:    uconfigPath,
		})
		if err != nil {
			log.Fatalf("Failed to submit job: %v", err)
		}
		fmt.Printf("Job submitted: %s (worker %s)\n", job.ID, job.AssignedWorker)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List render jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		statusFlag, _ := cmd.Flags().GetString("status")
		if statusFlag != "" && !models.RenderStatus(statusFlag).Valid() {
			log.Fatalf("Invalid status: %s. Valid statuses are: ready_to_start, in_progress, finished, errored", statusFlag)
		}

		c := client.New(cfg.ServerURL)
		jobs, err := c.FetchAllJobs(context.Background())
		if err != nil {
			log.Fatalf("Failed to fetch jobs: %v", err)
		}

		if statusFlag != "" {
			filtered := jobs[:0]
			for _, job := range jobs {
				if job.Status == models.RenderStatus(statusFlag) {
					filtered = append(filtered, job)
				}
			}
			jobs = filtered
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return
		}

		fmt.Printf("%-38s %-18s %-15s %-9s %-12s\n", "ID", "WORKER", "STATUS", "PROGRESS", "ESTIMATE")
		fmt.Println(strings.Repeat("-", 96))
		for _, job := range jobs {
			fmt.Printf("%-38s %-18s %-15s %-9d %-12s\n",
				job.ID,
				job.AssignedWorker,
				string(job.Status),
				job.Progress,
				job.TimeEstimate,
			)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts by status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		c := client.New(cfg.ServerURL)
		jobs, err := c.FetchAllJobs(context.Background())
		if err != nil {
			log.Fatalf("Failed to fetch jobs: %v", err)
		}

		counts := make(map[models.RenderStatus]int)
		for _, job := range jobs {
			counts[job.Status]++
		}

		fmt.Println("Render Queue Status")
		fmt.Println("===================")
		fmt.Printf("Ready:       %d\n", counts[models.StatusReadyToStart])
		fmt.Printf("In progress: %d\n", counts[models.StatusInProgress])
		fmt.Printf("Finished:    %d\n", counts[models.StatusFinished])
		fmt.Printf("Errored:     %d\n", counts[models.StatusErrored])
	},
}

// moduleDir is exported into the engine process as UE_PYTHONPATH so the
// runtime executor can locate the worker-side scripts next to the binary.
func moduleDir() string {
	execPath, err := os.Executable()
	if err != nil {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	return filepath.Dir(execPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	submitCmd.Flags().String("worker", "", "Worker identity the job is assigned to")
	submitCmd.Flags().String("map", "", "Engine path to the map/level asset")
	submitCmd.Flags().String("sequence", "", "Engine path to the level sequence asset")
	submitCmd.Flags().String("preset", "", "Engine path to the render preset/config asset")

	listCmd.Flags().StringP("status", "s", "", "Filter jobs by status (ready_to_start, in_progress, finished, errored)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
