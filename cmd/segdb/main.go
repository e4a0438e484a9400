// Command segdb manages a segment store from the command line.
//
// Usage:
//
//	segdb [flags] <command> [args]
//
// Commands:
//
//	ingest [-batch n] <file.jsonl|->   build segments from JSON lines
//	merge [segment...]                 merge all or an adjacent run of segments
//	rewrite <segment>                  re-encode a segment with the current compression
//	ids <table>                        list live keys
//	term <table> <field> <term>        list keys whose field matches term
//	get <table> <field> <key>          print the values of a field
//	segments                           list committed segments
//	shell                              interactive mode
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/segdb"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/blobstore/minio"
	"github.com/hupe1980/segdb/blobstore/s3"
	"github.com/hupe1980/segdb/schema"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type config struct {
	dir         string
	schemaPath  string
	compression string
	logLevel    string
	cacheMB     int64
	workers     int64
	ioLimit     int64

	s3Bucket      string
	s3Prefix      string
	s3Region      string
	s3CommitTable string

	minioEndpoint string
	minioBucket   string
	minioPrefix   string
	minioSecure   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "segdb:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	var cfg config
	fs := flag.NewFlagSet("segdb", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.dir, "dir", "./data", "local data directory")
	fs.StringVar(&cfg.schemaPath, "schema", "schema.json", "schema definition file")
	fs.StringVar(&cfg.compression, "compression", "zstd", "block compression: none, lz4 or zstd")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.Int64Var(&cfg.cacheMB, "cache-mb", 0, "block cache size in MiB (0 disables)")
	fs.Int64Var(&cfg.workers, "workers", 2, "maximum concurrent merges and rewrites")
	fs.Int64Var(&cfg.ioLimit, "io-limit", 0, "merge write limit in bytes per second (0 disables)")
	fs.StringVar(&cfg.s3Bucket, "s3-bucket", "", "store data in this S3 bucket")
	fs.StringVar(&cfg.s3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket")
	fs.StringVar(&cfg.s3Region, "s3-region", "", "S3 region override")
	fs.StringVar(&cfg.s3CommitTable, "s3-commit-table", "", "DynamoDB table coordinating manifest commits")
	fs.StringVar(&cfg.minioEndpoint, "minio-endpoint", "", "store data on this MinIO endpoint")
	fs.StringVar(&cfg.minioBucket, "minio-bucket", "segdb", "MinIO bucket")
	fs.StringVar(&cfg.minioPrefix, "minio-prefix", "", "key prefix inside the MinIO bucket")
	fs.BoolVar(&cfg.minioSecure, "minio-secure", false, "use TLS for MinIO")
	fs.Usage = func() {
		fmt.Fprintln(out, "usage: segdb [flags] <ingest|merge|rewrite|ids|term|get|segments|shell> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	s, err := loadSchema(cfg.schemaPath)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	opts, err := dbOptions(cfg)
	if err != nil {
		return err
	}

	db, err := segdb.Open(ctx, store, s, opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	a := &app{db: db, out: out}
	if fs.Arg(0) == "shell" {
		return a.shell(ctx)
	}
	return a.exec(ctx, fs.Arg(0), fs.Args()[1:], in)
}

func loadSchema(path string) (*schema.Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return schema.Load(f)
}

func openStore(ctx context.Context, cfg config) (blobstore.BlobStore, error) {
	switch {
	case cfg.s3Bucket != "":
		var opts []s3.Option
		if cfg.s3Prefix != "" {
			opts = append(opts, s3.WithPrefix(cfg.s3Prefix))
		}
		if cfg.s3Region != "" {
			opts = append(opts, s3.WithRegion(cfg.s3Region))
		}
		if cfg.s3CommitTable != "" {
			return s3.NewCommit(ctx, cfg.s3Bucket, cfg.s3CommitTable, opts...)
		}
		return s3.New(ctx, cfg.s3Bucket, opts...)
	case cfg.minioEndpoint != "":
		client, err := miniogo.New(cfg.minioEndpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: cfg.minioSecure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		store := minio.NewStore(client, cfg.minioBucket, cfg.minioPrefix)
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(cfg.dir), nil
	}
}

func dbOptions(cfg config) ([]segdb.Option, error) {
	c, err := segdb.ParseCompression(cfg.compression)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := []segdb.Option{
		segdb.WithCompression(c),
		segdb.WithLogLevel(level),
		segdb.WithResourceConfig(segdb.ResourceConfig{
			MaxBackgroundWorkers: cfg.workers,
			IOLimitBytesPerSec:   cfg.ioLimit,
		}),
	}
	if cfg.cacheMB > 0 {
		opts = append(opts, segdb.WithBlockCache(cfg.cacheMB<<20, 0))
	}
	return opts, nil
}
