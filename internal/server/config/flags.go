package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/flagx"
)

var ownFlags = []string{"-a", "-d", "-s", "-t", "-k", "-n", "-m", "-i", "-l", "-r", "-o", "-v", "-u", "-p", "-b", "-g", "-e"}

// parseFlags overlays Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-k int      bcrypt cost
//	-n int      feed page size
//	-m string   image backend: local | s3
//	-i string   image directory (local backend)
//	-l int      max upload size, bytes
//	-r int      reconcile interval, minutes (0 = startup only)
//	-o int      orphan image grace period, minutes
//	-v string   log level
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, base endpoint
//
// Durations are given in whole minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], ownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	fs.IntVar(&config.BcryptCost, "k", config.BcryptCost, "bcrypt cost")
	fs.IntVar(&config.PageSize, "n", config.PageSize, "posts per page")
	fs.StringVar(&config.ImageBackend, "m", config.ImageBackend, "image backend (local|s3)")
	fs.StringVar(&config.ImageDir, "i", config.ImageDir, "image directory")
	fs.Int64Var(&config.MaxUploadBytes, "l", config.MaxUploadBytes, "max upload size in bytes")
	reconcileInterval := fs.Int("r", int(config.ReconcileInterval.Minutes()), "reconcile interval (in minutes)")
	orphanGrace := fs.Int("o", int(config.OrphanImageGrace.Minutes()), "orphan image grace period (in minutes)")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
	config.ReconcileInterval = time.Duration(*reconcileInterval) * time.Minute
	config.OrphanImageGrace = time.Duration(*orphanGrace) * time.Minute
}
