package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"socialqueue/internal"
	"socialqueue/internal/credentials"
	"socialqueue/internal/logging"
	"socialqueue/internal/model"
	"socialqueue/internal/notify"
	"socialqueue/internal/orchestrator"
	"socialqueue/internal/queue"
	"socialqueue/internal/s3"
	"socialqueue/internal/scheduler"
	"socialqueue/internal/uploaders"
)

func main() {
	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	var (
		addPath   = flag.String("add", "", "enqueue a video file")
		list      = flag.Bool("list", false, "print the queue")
		removeID  = flag.Int64("remove", 0, "remove a job by id")
		updateID  = flag.Int64("update", 0, "edit metadata of a pending job")
		title     = flag.String("title", "", "new title (with -update)")
		desc      = flag.String("desc", "", "new description (with -update)")
		tags      = flag.String("tags", "", "comma-separated tags (with -update)")
		platforms = flag.String("platforms", "", "comma-separated platforms (with -update)")
		privacy   = flag.String("privacy", "", "public or private (with -update)")
		uploadID  = flag.Int64("upload", 0, "upload one job by id")
		uploadAll = flag.Bool("upload-all", false, "upload every pending job")
		retrySpec = flag.String("retry", "", "retry a failed task, formatted id:platform")
		setCred   = flag.String("set-credential", "", "store a credential, formatted platform.key=value")
		markAuth  = flag.String("mark-authenticated", "", "flag a platform's credentials as valid")
	)
	flag.Parse()

	log, err := logging.New("errors.log")
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Errorf("load config: %v", err)
		return
	}

	creds, err := credentials.Load(cfg.CredentialsPath)
	if err != nil {
		log.Errorf("load credentials: %v", err)
		return
	}

	var mirror *credentials.Mirror
	if cfg.S3Configured() {
		client, err := s3.New(cfg)
		if err != nil {
			log.Errorf("s3 init: %v", err)
			return
		}
		mirror = credentials.NewMirror(client, cfg.CredentialsS3Key)
		if pulled, err := mirror.Pull(ctx, creds); err != nil {
			log.Errorf("credentials mirror pull: %v", err)
		} else if pulled {
			log.Infof("credentials restored from mirror")
		}
	}

	store, err := queue.Open(cfg.DBPath)
	if err != nil {
		log.Errorf("open queue db: %v", err)
		return
	}
	defer store.Close()

	registry := uploaders.NewManager(creds, cfg)
	manager := queue.NewManager(store, registry)
	orch := orchestrator.New(manager, registry, log, orchestrator.Options{
		MaxConcurrent:  cfg.MaxConcurrent,
		LaunchInterval: cfg.LaunchInterval,
		UploadTimeout:  cfg.UploadTimeout,
	})

	notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.PostsChatID, log)
	if err != nil {
		log.Errorf("notifier init: %v", err)
		return
	}
	if notifier != nil {
		manager.OnJobSettled(notifier.JobSettled)
	}

	saveCredentials := func() {
		if err := creds.Save(); err != nil {
			log.Errorf("save credentials: %v", err)
			return
		}
		if mirror != nil {
			if err := mirror.Push(ctx, creds); err != nil {
				log.Errorf("credentials mirror push: %v", err)
			}
		}
	}

	switch {
	case *addPath != "":
		id, err := manager.Add(ctx, *addPath)
		if err != nil {
			log.Errorf("add %s: %v", *addPath, err)
			return
		}
		fmt.Printf("added job %d\n", id)

	case *list:
		jobs, err := manager.List(ctx)
		if err != nil {
			log.Errorf("list: %v", err)
			return
		}
		printJobs(jobs)

	case *removeID != 0:
		if err := manager.Remove(ctx, *removeID); err != nil {
			log.Errorf("remove %d: %v", *removeID, err)
			return
		}
		fmt.Printf("removed job %d\n", *removeID)

	case *updateID != 0:
		fields := queue.UpdateFields{}
		if *title != "" {
			fields.Title = title
		}
		if *desc != "" {
			fields.Description = desc
		}
		if *tags != "" {
			values := splitList(*tags)
			fields.Tags = &values
		}
		if *platforms != "" {
			values := splitList(*platforms)
			fields.Platforms = &values
		}
		if *privacy != "" {
			fields.Privacy = privacy
		}
		if err := manager.Update(ctx, *updateID, fields); err != nil {
			log.Errorf("update %d: %v", *updateID, err)
			return
		}
		fmt.Printf("updated job %d\n", *updateID)

	case *uploadID != 0:
		h, err := orch.UploadOne(ctx, *uploadID)
		if err != nil {
			log.Errorf("upload %d: %v", *uploadID, err)
			return
		}
		waitAndReport(ctx, h)

	case *uploadAll:
		h, err := orch.UploadAll(ctx)
		if err != nil {
			log.Errorf("upload all: %v", err)
			return
		}
		waitAndReport(ctx, h)

	case *retrySpec != "":
		id, platform, err := parseRetrySpec(*retrySpec)
		if err != nil {
			log.Errorf("retry: %v", err)
			return
		}
		h, err := orch.Retry(ctx, id, platform)
		if err != nil {
			log.Errorf("retry %d/%s: %v", id, platform, err)
			return
		}
		waitAndReport(ctx, h)

	case *setCred != "":
		platform, key, value, err := parseCredentialSpec(*setCred)
		if err != nil {
			log.Errorf("set credential: %v", err)
			return
		}
		creds.SetValue(platform, key, value)
		saveCredentials()
		fmt.Printf("stored %s.%s\n", platform, key)

	case *markAuth != "":
		creds.MarkAuthenticated(*markAuth, true)
		saveCredentials()
		fmt.Printf("%s marked authenticated\n", *markAuth)

	default:
		runDaemon(ctx, cfg, orch, log)
	}
}

// runDaemon blocks on the periodic flush until the process is signalled.
func runDaemon(ctx context.Context, cfg internal.Config, orch *orchestrator.Orchestrator, log *logging.Logger) {
	if cfg.FlushCron == "" {
		log.Infof("daemon idle: FLUSH_CRON not set, waiting for signal")
		<-ctx.Done()
		return
	}
	svc, err := scheduler.New(cfg.FlushCron, orch, log)
	if err != nil {
		log.Errorf("scheduler init: %v", err)
		return
	}
	log.Infof("daemon running, flush schedule %q", cfg.FlushCron)
	if err := svc.Run(ctx); err != nil {
		log.Errorf("scheduler stopped: %v", err)
	}
}

func waitAndReport(ctx context.Context, h *orchestrator.Handle) {
	_ = h.Wait(ctx)
	for _, t := range h.Snapshot() {
		line := fmt.Sprintf("job %d %-10s %-10s %3.0f%%", t.JobID, t.Platform, t.Status, t.Progress*100)
		if t.Detail != "" {
			line += " " + t.Detail
		}
		fmt.Println(line)
	}
}

func printJobs(jobs []*model.Job) {
	if len(jobs) == 0 {
		fmt.Println("queue is empty")
		return
	}
	for _, job := range jobs {
		fmt.Printf("%3d %-10s %-30s platforms=%s privacy=%s\n",
			job.ID, job.Status, job.Name, strings.Join(job.Platforms, ","), job.Privacy)
		for _, task := range job.Tasks {
			detail := ""
			if task.Detail != "" {
				detail = " " + task.Detail
			}
			fmt.Printf("     %-10s %-10s %3.0f%%%s\n", task.Platform, task.Status, task.Progress*100, detail)
		}
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRetrySpec(spec string) (int64, string, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("expected id:platform, got %q", spec)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid job id %q", parts[0])
	}
	return id, parts[1], nil
}

func parseCredentialSpec(spec string) (platform, key, value string, err error) {
	eq := strings.SplitN(spec, "=", 2)
	if len(eq) != 2 {
		return "", "", "", fmt.Errorf("expected platform.key=value, got %q", spec)
	}
	dot := strings.SplitN(eq[0], ".", 2)
	if len(dot) != 2 || dot[0] == "" || dot[1] == "" {
		return "", "", "", fmt.Errorf("expected platform.key=value, got %q", spec)
	}
	return dot[0], dot[1], eq[1], nil
}
