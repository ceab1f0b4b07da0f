package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	https_server "VectorLink/api/http"
	"VectorLink/internal/application/service"
	"VectorLink/internal/config"
	"VectorLink/internal/infrastructure/chunking"
	vlEmbedding "VectorLink/internal/infrastructure/embedding"
	"VectorLink/internal/infrastructure/mq"
	"VectorLink/internal/infrastructure/mq/kafka"
	"VectorLink/internal/infrastructure/mq/memory"
	"VectorLink/internal/infrastructure/persistence"
	"VectorLink/internal/infrastructure/pipeline"
	"VectorLink/internal/infrastructure/queue"
	"VectorLink/internal/infrastructure/vectordb"
	"VectorLink/internal/initial"
	vlHandler "VectorLink/internal/interface/http"
	"VectorLink/pkg/util/myjwt"
	"VectorLink/pkg/zlog"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

func main() {
	confPath := flag.String("conf", "configs/config.toml", "配置文件路径")
	flag.Parse()

	// 1. 加载配置
	conf, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	zlog.Init(conf.LogConfig.LogPath)
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 基础设施
	db, err := initial.NewGormDB(conf)
	if err != nil {
		zlog.Fatal("mysql init failed", zap.Error(err))
	}

	mclient, err := initial.NewMilvusClient(ctx, conf)
	if err != nil {
		zlog.Fatal("milvus init failed", zap.Error(err))
	}
	defer mclient.Close()

	store, err := vectordb.NewMilvusStore(mclient, conf.MilvusConfig.CollectionName, conf.MilvusConfig.VectorDim, entity.MetricType(conf.MilvusConfig.MetricType))
	if err != nil {
		zlog.Fatal("vector store init failed", zap.Error(err))
	}

	embedder, meta, err := vlEmbedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal("embedder init failed", zap.Error(err))
	}
	zlog.Info("embedder ready",
		zap.String("provider", meta.Provider),
		zap.String("model", meta.Model),
		zap.Int("dim", meta.Dim),
	)

	var chunker *chunking.SimpleChunker
	if conf.SplitterConfig.Recursive {
		chunker, err = chunking.NewRecursiveChunker(conf.SplitterConfig.ChunkSize, conf.SplitterConfig.ChunkOverlap)
	} else {
		chunker, err = chunking.NewSimpleChunker(conf.SplitterConfig.ChunkSize, conf.SplitterConfig.ChunkOverlap)
	}
	if err != nil {
		zlog.Fatal("chunker init failed", zap.Error(err))
	}

	ingestPipeline, err := pipeline.NewIngestPipeline(chunker, embedder, store, conf.MilvusConfig.VectorDim, conf.EmbeddingConfig.BatchSize, conf.EmbeddingConfig.RetryTimes)
	if err != nil {
		zlog.Fatal("pipeline init failed", zap.Error(err))
	}

	// 3. 消息队列：配置了 broker 用 Kafka，否则进程内通道
	topic := conf.KafkaConfig.IngestTopic
	var pub mq.Publisher
	var consumers []mq.Consumer
	if len(conf.KafkaConfig.Brokers) > 0 {
		if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		}, topic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
			zlog.Fatal("kafka ensure topic failed", zap.Error(err))
		}
		pub, err = kafka.NewPublisher(conf.KafkaConfig.Brokers, conf.KafkaConfig.ClientID)
		if err != nil {
			zlog.Fatal("kafka publisher init failed", zap.Error(err))
		}
		for i := 0; i < conf.WorkerConfig.Count; i++ {
			c, cerr := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:  conf.KafkaConfig.Brokers,
				GroupID:  conf.KafkaConfig.ConsumerGroupID,
				Topics:   []string{topic},
				ClientID: conf.KafkaConfig.ClientID,
			})
			if cerr != nil {
				zlog.Fatal("kafka consumer init failed", zap.Error(cerr))
			}
			consumers = append(consumers, c)
		}
	} else {
		broker := memory.NewBroker(1024)
		pub = broker.Publisher()
		for i := 0; i < conf.WorkerConfig.Count; i++ {
			consumers = append(consumers, broker.Consumer(topic))
		}
		zlog.Info("kafka brokers not configured, using in-process broker")
	}
	defer pub.Close()

	// 4. 任务执行链路
	jobRepo := persistence.NewJobRepository(db)
	worker := queue.NewIngestWorker(jobRepo, ingestPipeline)
	pool := queue.NewWorkerPool(worker, consumers, time.Duration(conf.WorkerConfig.ShutdownGraceSeconds)*time.Second)
	if err := pool.Start(ctx); err != nil {
		zlog.Fatal("worker pool start failed", zap.Error(err))
	}

	relay := queue.NewJobOutboxRelay(jobRepo, pub, topic, conf.WorkerConfig.RelayBatchSize, time.Duration(conf.WorkerConfig.RelayPollIntervalMs)*time.Millisecond)
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			zlog.Error("outbox relay exited", zap.Error(err))
		}
	}()

	reclaimer := queue.NewStalledJobReclaimer(jobRepo, time.Duration(conf.WorkerConfig.VisibilityTimeoutSeconds)*time.Second, 30*time.Second, conf.WorkerConfig.RelayBatchSize)
	go func() {
		if err := reclaimer.Run(ctx); err != nil && ctx.Err() == nil {
			zlog.Error("stalled job reclaimer exited", zap.Error(err))
		}
	}()

	// 5. HTTP 服务
	var jwtMgr *myjwt.Manager
	if conf.JwtConfig.Key != "" {
		jwtMgr, err = myjwt.NewManager(conf.JwtConfig.Key, conf.JwtConfig.ExpireHours, conf.JwtConfig.Issuer)
		if err != nil {
			zlog.Fatal("jwt init failed", zap.Error(err))
		}
	}
	ingestSvc := service.NewIngestService(jobRepo, store, topic)
	searchSvc := service.NewSearchService(embedder, store)
	ingestH := vlHandler.NewIngestHandler(ingestSvc)
	searchH := vlHandler.NewSearchHandler(searchSvc)
	ge := https_server.NewServer(conf, jwtMgr, ingestH, searchH)

	go func() {
		addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
		zlog.Info("服务器正在启动", zap.String("addr", addr))
		if err := ge.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
		}
	}()

	// 6. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()
	pool.Stop()
	zlog.Info("服务器已关闭")
}
