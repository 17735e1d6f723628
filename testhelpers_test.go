//go:build integration

package main_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seaport-ferry/service-booking/internal/application"
	"github.com/seaport-ferry/service-booking/internal/collaborator"
	bookingEvents "github.com/seaport-ferry/service-booking/internal/events"
	"github.com/seaport-ferry/service-booking/internal/lock"
	"github.com/seaport-ferry/service-booking/internal/notification"
	"github.com/seaport-ferry/service-booking/internal/repository"
	"github.com/seaport-ferry/service-booking/internal/scheduler"
	"github.com/seaport-ferry/service-booking/pkg/database"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
)

const (
	bookingEventsTopic = "booking.events"
	paymentEventsTopic = "payment.events"
	notificationsTopic = "ferry.notifications"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	Redis        *redis.Client
	KafkaBrokers []string
	Cleanup      func()
}

// bookingStack holds wired-up booking service components.
type bookingStack struct {
	Service   *application.BookingService
	Consumer  *bookingEvents.PaymentEventConsumer
	Scheduler *scheduler.DeadlineScheduler
	Capacity  *fakeCollaborator
	Payment   *fakeCollaborator
	Cleanup   func()
}

// setupContainers starts PostgreSQL, Redis and Kafka testcontainers.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_booking",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbConfig := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_booking",
		SSLMode:  "disable",
	}

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(dbConfig, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(dbConfig.DatabaseURL(), "migrations", logger))

	// Start Redis container.
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(redisHost, redisPort.Port())})
	require.NoError(t, redisClient.Ping(ctx).Err())

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, bookingEventsTopic, paymentEventsTopic, notificationsTopic)

	cleanup := func() {
		_ = redisClient.Close()
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		Redis:        redisClient,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// fakeCollaborator is an HTTP stand-in for the capacity or payment service.
type fakeCollaborator struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newFakeCollaborator(t *testing.T, data interface{}) *fakeCollaborator {
	t.Helper()
	f := &fakeCollaborator{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	}))
	return f
}

func (f *fakeCollaborator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// setupBookingStack wires up the full booking service stack.
func setupBookingStack(t *testing.T, infra *testInfra, cfg application.Config) *bookingStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	capacity := newFakeCollaborator(t, nil)
	payment := newFakeCollaborator(t, map[string]bool{"settled": true})

	notifier, err := notification.NewKafkaNotifier(notification.ProducerConfig{
		Brokers: infra.KafkaBrokers,
		Topic:   notificationsTopic,
	}, logger)
	require.NoError(t, err)

	producer := kafka.NewProducer(infra.KafkaBrokers, logger)
	deadlines := scheduler.New(nil, scheduler.DefaultOptions(), logger)

	cfg.BookingEventsTopic = bookingEventsTopic
	bookingSvc := application.NewBookingService(
		repository.NewGormBookingRepository(infra.DB),
		lock.NewRedisLocker(infra.Redis, 10*time.Second, logger),
		deadlines,
		collaborator.NewCapacityClient(capacity.URL, 5*time.Second),
		collaborator.NewPaymentClient(payment.URL, 5*time.Second),
		notifier,
		producer,
		cfg,
		logger,
	)
	deadlines.SetFireFunc(bookingSvc.FireDeadline)

	groupID := fmt.Sprintf("test-booking-%s", uuid.New().String()[:8])
	consumer := bookingEvents.NewPaymentEventConsumer(infra.KafkaBrokers, groupID, paymentEventsTopic,
		bookingSvc, bookingEvents.NewRedisDeduplicator(infra.Redis, time.Hour), logger)

	return &bookingStack{
		Service:   bookingSvc,
		Consumer:  consumer,
		Scheduler: deadlines,
		Capacity:  capacity,
		Payment:   payment,
		Cleanup: func() {
			deadlines.Stop()
			bookingSvc.Wait()
			_ = consumer.Close()
			_ = producer.Close()
			_ = notifier.Close()
			capacity.Close()
			payment.Close()
		},
	}
}

// seedBooking inserts a booking in the given status for testing.
func seedBooking(t *testing.T, db *gorm.DB, customerID uuid.UUID, status string, mutate func(*repository.BookingModel)) int64 {
	t.Helper()
	now := time.Now().UTC()
	model := repository.BookingModel{
		Code:             fmt.Sprintf("FB-%s", uuid.New().String()[:6]),
		CustomerID:       customerID,
		RouteID:          1,
		FerryID:          2,
		ScheduleID:       3,
		VehicleIDs:       []byte(`[]`),
		Passengers:       2,
		TotalAmountCents: 10000,
		Currency:         "EUR",
		Status:           status,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if mutate != nil {
		mutate(&model)
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed booking")
	return model.ID
}

// publishTestEvent publishes a CloudEvent to Kafka and returns it.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) kafka.CloudEvent {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
	return ce
}

// republishEvent sends an existing CloudEvent again, as a redelivery would.
func republishEvent(t *testing.T, brokers []string, topic string, ce kafka.CloudEvent) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()
	require.NoError(t, producer.PublishEvent(context.Background(), topic, ce))
}

// waitForBookingStatus polls the bookings table until the status matches.
func waitForBookingStatus(t *testing.T, db *gorm.DB, bookingID int64, expectedStatus string, timeout time.Duration) repository.BookingModel {
	t.Helper()
	var result repository.BookingModel
	require.Eventually(t, func() bool {
		var model repository.BookingModel
		err := db.Where("id = ?", bookingID).First(&model).Error
		if err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "booking did not transition to %s", expectedStatus)
	return result
}

// consumeEvents reads booking events for bookingID until one of each wanted type was seen.
func consumeEvents(t *testing.T, brokers []string, topic string, bookingID int64, wanted []string, timeout time.Duration) map[string]kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	key := strconv.FormatInt(bookingID, 10)
	found := make(map[string]kafka.CloudEvent)
	for len(found) < len(wanted) {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for %v on topic %q, got %d", wanted, topic, len(found))
			}
			continue
		}
		if string(msg.Key) != key {
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		for _, w := range wanted {
			if ce.Type == w {
				found[w] = ce
			}
		}
	}
	return found
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
