package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/swisscatplus/glas/internal/store"
)

// Environment is the set of values the process reads from its environment:
// database credentials, the JWT signing secret, and the HTTP IP allow-list.
type Environment struct {
	Database      store.Config
	JWTSecret     string
	AuthorizedIPs []string
}

// LoadEnvironment binds DATABASE_{USER,PASSWORD,HOST,NAME,PORT}, JWT_SECRET
// and AUTHORIZED_IPS (space-separated) through viper's automatic env
// lookup.
func LoadEnvironment() Environment {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.name", "glas")

	bindEnv(v, "database.user", "DATABASE_USER")
	bindEnv(v, "database.password", "DATABASE_PASSWORD")
	bindEnv(v, "database.host", "DATABASE_HOST")
	bindEnv(v, "database.name", "DATABASE_NAME")
	bindEnv(v, "database.port", "DATABASE_PORT")
	bindEnv(v, "jwt_secret", "JWT_SECRET")
	bindEnv(v, "authorized_ips", "AUTHORIZED_IPS")

	var ips []string
	if raw := v.GetString("authorized_ips"); raw != "" {
		ips = strings.Fields(raw)
	}

	return Environment{
		Database: store.Config{
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			Name:     v.GetString("database.name"),
		},
		JWTSecret:     v.GetString("jwt_secret"),
		AuthorizedIPs: ips,
	}
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}
