package config

import "github.com/ilyakaznacheev/cleanenv"

type Config struct {
	Port int `env:"PORT" env-default:"8000"`

	// Empty DATABASE_URL selects the in-memory job store.
	DatabaseURL string `env:"DATABASE_URL"`

	UploadDir       string `env:"UPLOAD_DIR" env-default:"./storage/uploads"`
	MaxUploadSizeMB int64  `env:"MAX_UPLOAD_SIZE" env-default:"500"`

	WhisperModelSize   string `env:"WHISPER_MODEL_SIZE" env-default:"base"`
	WhisperDevice      string `env:"WHISPER_DEVICE" env-default:"cpu"`
	WhisperComputeType string `env:"WHISPER_COMPUTE_TYPE" env-default:"int8"`

	RecognizerBin     string `env:"RECOGNIZER_BIN" env-default:"faster-whisper"`
	DiarizerBin       string `env:"DIARIZER_BIN" env-default:"pyannote-diarize"`
	PyannoteAuthToken string `env:"PYANNOTE_AUTH_TOKEN"`

	EnableDiarization bool  `env:"ENABLE_DIARIZATION" env-default:"false"`
	MaxConcurrentJobs int64 `env:"MAX_CONCURRENT_JOBS" env-default:"3"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}

	return &cfg
}
