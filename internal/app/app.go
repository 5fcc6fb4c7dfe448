// Package app assembles the orchestrator's collaborators from configuration.
package app

import (
	"context"
	"log"
	"path/filepath"

	"oape-orchestrator/internal/agent"
	"oape-orchestrator/internal/artifacts"
	"oape-orchestrator/internal/ciwatch"
	"oape-orchestrator/internal/config"
	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/pipeline"
)

// Services holds the long-lived collaborators shared by the server and the CLI.
type Services struct {
	Config  config.Config
	Runner  *agent.Runner
	Watcher *ciwatch.Watcher

	logger     *log.Logger
	transcript *agent.Transcript
	s3         *artifacts.S3Uploader
}

// New wires the agent runner, CI watcher and optional S3 mirror. A
// transcript that cannot be opened is logged and skipped.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*Services, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Services{Config: cfg, logger: logger}

	runnerOpts := []agent.RunnerOption{agent.WithLogger(logger)}
	if cfg.ConversationLog != "" {
		t, err := agent.OpenTranscript(cfg.ConversationLog)
		if err != nil {
			logger.Printf("conversation log disabled: %v", err)
		} else {
			s.transcript = t
			runnerOpts = append(runnerOpts, agent.WithTranscript(t))
		}
	}
	s.Runner = agent.NewRunner(agent.NewClaudeCLI(cfg.Agent.Binary), runnerOpts...)

	gh := ciwatch.NewGitHubProvider()
	if cfg.GHCommandTimeout > 0 {
		gh.Timeout = cfg.GHCommandTimeout
	}
	s.Watcher = ciwatch.NewWatcher(gh,
		ciwatch.WithInterval(cfg.CIPollInterval),
		ciwatch.WithMaxWait(cfg.CIMaxWait),
		ciwatch.WithLogger(logger),
	)

	if cfg.ArtifactS3Bucket != "" {
		up, err := artifacts.NewS3Uploader(ctx, artifacts.S3Config{
			Bucket:    cfg.ArtifactS3Bucket,
			Region:    cfg.ArtifactS3Region,
			Endpoint:  cfg.ArtifactS3Endpt,
			PathStyle: cfg.ArtifactS3Path,
			Prefix:    cfg.ArtifactKeyPrefix,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.s3 = up
		logger.Printf("mirroring summaries to s3://%s/%s", cfg.ArtifactS3Bucket, cfg.ArtifactKeyPrefix)
	}
	return s, nil
}

// Close releases the transcript file.
func (s *Services) Close() error {
	return s.transcript.Close()
}

// AgentOptions are the settings every agent session starts from.
func (s *Services) AgentOptions() agent.Options {
	a := s.Config.Agent
	return agent.Options{
		AllowedTools:   a.AllowedTools,
		PluginDir:      a.PluginDir,
		MaxTurns:       a.MaxTurns,
		Model:          a.Model,
		PermissionMode: a.PermissionMode,
	}
}

// Workspace roots a run's summaries at root, mirroring them under runID
// when S3 is configured.
func (s *Services) Workspace(root, runID string) *pipeline.Workspace {
	var mirrors []artifacts.Uploader
	if s.s3 != nil {
		mirrors = append(mirrors, s.s3.WithPrefix(runID))
	}
	return pipeline.NewWorkspace(root, artifacts.NewPublisher(root, s.logger, mirrors...))
}

// Pipeline builds a phased pipeline writing into root.
func (s *Services) Pipeline(root, runID string) *pipeline.Pipeline {
	return pipeline.New(s.Runner, s.Watcher, s.Workspace(root, runID), s.AgentOptions(),
		pipeline.WithLogger(s.logger))
}

// Workflow builds the single-session workflow rooted at the configured work root.
func (s *Services) Workflow() *pipeline.Workflow {
	return pipeline.NewWorkflow(s.Runner, s.AgentOptions(), s.Config.WorkRoot, s.Config.Agent.TeamReposCSV)
}

// JobWorkspaceRoot is where a server job's phased pipeline keeps its files.
func (s *Services) JobWorkspaceRoot(jobID string) string {
	return filepath.Join(s.Config.WorkRoot, "oape-"+jobID, ".oape-work")
}

// Launcher registers both workflow modes on a launcher over store.
func (s *Services) Launcher(store jobs.Store) *jobs.Launcher {
	l := jobs.NewLauncher(store, s.logger)
	l.RegisterHandler(models.ModeWorkflow, s.Workflow().JobHandler())

	base := s.Pipeline(s.Config.WorkRoot, "")
	l.RegisterHandler(models.ModePhased, base.JobHandler(func(jobID string) *pipeline.Workspace {
		return s.Workspace(s.JobWorkspaceRoot(jobID), jobID)
	}))
	return l
}
