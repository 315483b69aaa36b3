package config

const (
	defaultDataDir                = "~/.local/share/storyloom"
	defaultLogDir                 = "~/.local/share/storyloom/logs"
	defaultAPIBind                = "127.0.0.1:7626"
	defaultLLMBaseURL             = "https://api.openai.com/v1"
	defaultChapterModel           = "gpt-4o-mini"
	defaultPremiseModel           = "gpt-4o-mini"
	defaultEvalModel              = "gpt-4o-mini"
	defaultImageModel             = "dall-e-3"
	defaultLLMTimeoutSeconds      = 120
	defaultTickInterval           = 30
	defaultChapterInterval        = 300
	defaultEvaluationInterval     = 5
	defaultMinChaptersBeforeEval  = 5
	defaultQualityScoreMin        = 0.55
	defaultMaxChaptersPerStory    = 40
	defaultMinActiveStories       = 3
	defaultMaxActiveStories       = 8
	defaultContextWindowChapters  = 6
	defaultBackfillInterval       = 360
	defaultBackfillBatchSize      = 5
	defaultBackfillPauseSeconds   = 2.0
	defaultBackfillRetryAttempts  = 3
	defaultMetaRefreshInterval    = 900
	defaultMetaMinOccurrences     = 2
	defaultMetaMinLinkWeight      = 0.5
	defaultMetaMaxCorpusChapters  = 50
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			ChapterModel:   defaultChapterModel,
			PremiseModel:   defaultPremiseModel,
			EvalModel:      defaultEvalModel,
			ImageModel:     defaultImageModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Worker: Worker{
			TickInterval:               defaultTickInterval,
			ChapterIntervalSeconds:     defaultChapterInterval,
			EvaluationIntervalChapters: defaultEvaluationInterval,
			MinChaptersBeforeEval:      defaultMinChaptersBeforeEval,
			QualityScoreMin:            defaultQualityScoreMin,
			MaxChaptersPerStory:        defaultMaxChaptersPerStory,
			MinActiveStories:           defaultMinActiveStories,
			MaxActiveStories:           defaultMaxActiveStories,
			ContextWindowChapters:      defaultContextWindowChapters,
		},
		Backfill: Backfill{
			Enabled:         true,
			IntervalMinutes: defaultBackfillInterval,
			BatchSize:       defaultBackfillBatchSize,
			PauseSeconds:    defaultBackfillPauseSeconds,
			RetryAttempts:   defaultBackfillRetryAttempts,
		},
		Meta: Meta{
			RefreshIntervalSeconds: defaultMetaRefreshInterval,
			MinOccurrences:         defaultMetaMinOccurrences,
			MinLinkWeight:          defaultMetaMinLinkWeight,
			MaxCorpusChapters:      defaultMetaMaxCorpusChapters,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Chapters:       true,
			Completions:    true,
			Spawns:         true,
			Backfill:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
