/*
Package test contains the integration tests of popstats. They run against
postgres and kafka containers and are skipped unless INTEGRATION is set.
*/
package test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/popstats/core/access"
	"github.com/relabs-tech/popstats/core/backend"
	"github.com/relabs-tech/popstats/core/client"
	"github.com/relabs-tech/popstats/core/csql"
	"github.com/relabs-tech/popstats/core/datausa"
	"github.com/relabs-tech/popstats/core/notify"
	"github.com/relabs-tech/popstats/core/registry"
	"github.com/relabs-tech/popstats/core/snapshot"
)

// NotificationTopic is the kafka topic the backend notifies to
const NotificationTopic = "popstats"

// UpstreamBody is served by the fake DataUSA API
const UpstreamBody = `{
	"annotations": {"source_name": "Census Bureau"},
	"data": [
		{"Nation ID": "01000US", "Nation": "United States", "Year": "2022", "Total Population": 333287557},
		{"Nation ID": "01000US", "Nation": "United States", "Year": "2021", "Total Population": 329725481},
		{"Nation ID": "01000US", "Nation": "United States", "Year": "2020", "Total Population": 326569308}
	]
}`

// SkipUnlessIntegration skips t unless INTEGRATION is set
func SkipUnlessIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run integration tests")
	}
}

// IntegrationTestSuite starts postgres and kafka and serves a backend on top
// of them
type IntegrationTestSuite struct {
	suite.Suite
	*backend.Backend

	DB        *csql.DB
	Client    client.Client
	Snapshots snapshot.Driver
	KafkaAddr string

	router             *mux.Router
	upstream           *httptest.Server
	notifier           *notify.Kafka
	network            testcontainers.Network
	kafkaContainer     testcontainers.Container
	zookeeperContainer testcontainers.Container
	postgresContainer  testcontainers.Container
	kafkaConn          *kafka.Conn
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}
	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	networkName := "popstats-test-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	zooC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.zookeeperContainer = zooC

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,EXTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,EXTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,EXTERNAL:PLAINTEXT",
				"KAFKA_INTER_BROKER_LISTENER_NAME":       "EXTERNAL",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.KafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.KafkaAddr)
	s.Require().NoError(err)
	s.Require().NoError(s.createTopic(NotificationTopic, 1))

	s.DB = csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), postgresPassword, "popstats")

	reg, err := registry.New(s.DB)
	s.Require().NoError(err)

	s.Snapshots, err = snapshot.New(ctx, snapshot.Configuration{
		DriverType:         snapshot.DriverTypeLocal,
		LocalConfiguration: &snapshot.LocalConfiguration{BasePath: s.T().TempDir()},
	})
	s.Require().NoError(err)

	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(UpstreamBody))
	}))

	issuer, err := access.NewIssuer("integration-secret", time.Hour)
	s.Require().NoError(err)

	s.notifier = notify.NewKafka(s.KafkaAddr, NotificationTopic)
	s.router = mux.NewRouter()
	s.Backend = backend.New(&backend.Builder{
		DB:          s.DB,
		Router:      s.router,
		Issuer:      issuer,
		Upstream:    datausa.New(s.upstream.URL),
		Registry:    reg,
		Snapshots:   s.Snapshots,
		Notifier:    s.notifier,
		Environment: "test",
	})
	s.Client = client.NewWithRouter(s.router)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.upstream != nil {
		s.upstream.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.DB != nil {
		s.NoError(s.DB.ClearSchema())
		s.DB.Close()
	}
	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeperContainer, s.postgresContainer} {
		if c != nil {
			s.NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.NoError(s.network.Remove(ctx))
	}
}
