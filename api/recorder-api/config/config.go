package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	// local persistence and recordings
	DatabasePath string `mapstructure:"database_path" validate:"required"`
	RecordingDir string `mapstructure:"recording_dir" validate:"required"`

	// transcription service
	TranscriptionHost string `mapstructure:"transcription_host" validate:"required"`
	TokenHost         string `mapstructure:"token_host" validate:"required"`
	TokenScope        string `mapstructure:"token_scope"`
	UploadHost        string `mapstructure:"upload_host"`
	ApiKey            string `mapstructure:"api_key" validate:"required"`
	Language          string `mapstructure:"language"`
	MaxLatencyMs      int    `mapstructure:"max_latency_ms"`

	// capture
	InputDevice int `mapstructure:"input_device"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "recorder-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("DATABASE_PATH", "recorder.db")
	v.SetDefault("RECORDING_DIR", "recordings")

	v.SetDefault("TRANSCRIPTION_HOST", "")
	v.SetDefault("TOKEN_HOST", "")
	v.SetDefault("TOKEN_SCOPE", "")
	v.SetDefault("UPLOAD_HOST", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("LANGUAGE", "en")
	v.SetDefault("MAX_LATENCY_MS", 800)

	v.SetDefault("INPUT_DEVICE", 0)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
