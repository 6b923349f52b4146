package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/backend"
	"github.com/relabs-tech/popstats/core/csql"
	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/logger"
	"github.com/relabs-tech/popstats/core/notify"
	"github.com/relabs-tech/popstats/core/registry"
	"github.com/relabs-tech/popstats/core/snapshot"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string        `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string        `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string        `env:"POSTGRES_SCHEMA,default=popstats" description:"the database schema of all tables"`
	Port             int           `env:"PORT,default=5000" description:"the port to listen on"`
	Environment      string        `env:"ENVIRONMENT,default=development" description:"the environment reported by the health route"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" description:"the log level, e.g. debug, info, warn"`
	LogFormat        string        `env:"LOG_FORMAT,default=text" description:"the log format, text or json"`
	JWTSecret        string        `env:"JWT_SECRET,required" description:"the secret to sign tokens with"`
	JWTExpiresIn     time.Duration `env:"JWT_EXPIRES_IN,default=168h" description:"the lifetime of issued tokens"`
	CORSOrigin       string        `env:"CORS_ORIGIN,default=*" description:"comma separated list of allowed origins"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW,default=15m" description:"the window of the rate limiter"`
	RateLimitMax     int           `env:"RATE_LIMIT_MAX,default=100" description:"requests per client and window, 0 disables the limiter"`
	DataUSAURL       string        `env:"DATAUSA_URL,optional" description:"the DataUSA endpoint, defaults to the public API"`
	SnapshotDriver   string        `env:"SNAPSHOT_DRIVER,default=none" description:"where raw payloads are archived: none, local or s3"`
	SnapshotPath     string        `env:"SNAPSHOT_PATH,default=snapshots" description:"base folder of the local snapshot driver"`
	AWSRegion        string        `env:"AWS_REGION,optional" description:"the AWS region of the S3 bucket and the SQS queue"`
	AWSBucket        string        `env:"AWS_BUCKET,optional" description:"the S3 bucket of the s3 snapshot driver"`
	AWSAccessID      string        `env:"AWS_ACCESS_ID,optional" description:"static AWS access key ID, defaults to the AWS credential chain"`
	AWSAccessKey     string        `env:"AWS_ACCESS_KEY,optional" description:"static AWS secret access key"`
	AWSS3Endpoint    string        `env:"AWS_S3_ENDPOINT,optional" description:"overrides the S3 endpoint, e.g. for minio"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers, enables kafka notifications"`
	KafkaTopic       string        `env:"KAFKA_TOPIC,default=popstats" description:"the kafka topic for notifications"`
	SQSQueueURL      string        `env:"SQS_QUEUE_URL,optional" description:"the SQS queue URL, enables SQS notifications"`
	Lambda           bool          `env:"LAMBDA,default=false" description:"serve API Gateway events instead of listening on a port"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level, logger.Format(service.LogFormat))
	rlog := logger.Default()

	ctx := context.Background()
	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	defer db.Close()

	reg, err := registry.New(db)
	if err != nil {
		panic(err)
	}

	snapshots, err := snapshot.New(ctx, service.snapshotConfiguration())
	if err != nil {
		panic(err)
	}

	notifier, closeNotifier, err := service.notifier(ctx)
	if err != nil {
		panic(err)
	}
	defer closeNotifier()

	issuer, err := access.NewIssuer(service.JWTSecret, service.JWTExpiresIn)
	if err != nil {
		panic(err)
	}

	b := backend.New(&backend.Builder{
		DB:              db,
		Router:          mux.NewRouter(),
		Issuer:          issuer,
		Upstream:        datausa.New(service.DataUSAURL),
		Registry:        reg,
		Snapshots:       snapshots,
		Notifier:        notifier,
		CORSOrigin:      service.CORSOrigin,
		RateLimitWindow: service.RateLimitWindow,
		RateLimitMax:    service.RateLimitMax,
		Environment:     service.Environment,
	})

	if service.Lambda {
		rlog.Infoln("serving API Gateway events")
		lambda.Start(newProxy(b.Handler()).Handle)
		return
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		rlog.Infoln("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rlog.WithError(err).Errorln("Error 5901: shutdown")
		}
	}()

	rlog.Infoln("listen on port", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rlog.WithError(err).Fatalln("Error 5902: listen")
	}
}

func (s *Service) snapshotConfiguration() snapshot.Configuration {
	config := snapshot.Configuration{DriverType: snapshot.DriverType(s.SnapshotDriver)}
	switch config.DriverType {
	case snapshot.DriverTypeLocal:
		config.LocalConfiguration = &snapshot.LocalConfiguration{BasePath: s.SnapshotPath}
	case snapshot.DriverTypeAWSS3:
		config.S3Configuration = &snapshot.S3Configuration{
			AWSRegion:     s.AWSRegion,
			AWSBucketName: s.AWSBucket,
			AccessID:      s.AWSAccessID,
			AccessKey:     s.AWSAccessKey,
			KeyPrefix:     s.PostgresSchema + "/",
			Endpoint:      s.AWSS3Endpoint,
		}
	}
	return config
}

// notifier returns the configured notifiers and a function which releases them
func (s *Service) notifier(ctx context.Context) (core.Notifier, func(), error) {
	var notifiers notify.Multi
	closers := []func() error{}

	if s.KafkaBrokers != "" {
		k := notify.NewKafka(s.KafkaBrokers, s.KafkaTopic)
		notifiers = append(notifiers, k)
		closers = append(closers, k.Close)
		logger.Default().Infoln("kafka notifications to topic", s.KafkaTopic)
	}
	if s.SQSQueueURL != "" {
		q, err := notify.NewSQS(ctx, s.AWSRegion, s.SQSQueueURL)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, q)
		logger.Default().Infoln("sqs notifications to", s.SQSQueueURL)
	}

	release := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Default().WithError(err).Errorln("Error 5903: close notifier")
			}
		}
	}
	if len(notifiers) == 0 {
		return notify.Nop{}, release, nil
	}
	return notifiers, release, nil
}
