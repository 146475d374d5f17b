package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/chatauth/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string     HTTP bind address (e.g., ":8081")
//	-t duration   nonce TTL (e.g., "30s")
//	-s string     store: memory or redis
//	-r string     Redis address
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-t", "-s", "-r"})

	fs := flag.NewFlagSet("nonce", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.DurationVar(&config.NonceTTL, "t", config.NonceTTL, "nonce TTL")
	fs.StringVar(&config.Store, "s", config.Store, "nonce store (memory|redis)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")

	return fs.Parse(args)
}
