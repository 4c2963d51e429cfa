package syncd

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DSN         string `default:""`
	CatalogFile string `default:"catalog.json"`
	DumpDir     string `default:""`
	UserAgent   string `default:"comicsync/syncd"`

	GoComicsBaseURL string `default:""`

	CKBaseURL    string `default:""`
	CKUsername   string `default:""`
	CKPassword   string `default:""`
	CKCookieFile string `default:"comicskingdom-session.json"`

	FetchTimeoutSecs   int    `default:"30"`
	FetchRetries       int    `default:"3"`
	RunTimeoutSecs     int    `default:"600"`
	SyncIntervalSecs   int    `default:"3600"`
	RetryAttempts      int    `default:"3"`
	RetryWaitSecs      int    `default:"5"`
	CadenceStaleDays   int    `default:"7"`
	CadenceSampleLimit int    `default:"30"`
	BackfillMaxPages   int    `default:"30"`
	Host               string `default:"0.0.0.0"`
	Port               int    `default:"8080"`
	ForceReauth        bool   `default:"false"`
	FavoritesOnly      bool   `default:"false"`
}

func NewConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("comicsync", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
