package main

import (
	"log"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/semaphore"

	"github.com/merdocx/veilbot-sub000/internal/cache"
	"github.com/merdocx/veilbot-sub000/internal/config"
	"github.com/merdocx/veilbot-sub000/internal/database"
	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/notify"
	"github.com/merdocx/veilbot-sub000/internal/scheduler"
	"github.com/merdocx/veilbot-sub000/internal/store"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
	"github.com/merdocx/veilbot-sub000/internal/vpn/outline"
	"github.com/merdocx/veilbot-sub000/internal/vpn/v2ray"
	"github.com/merdocx/veilbot-sub000/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	notifier := notify.NewTelegramNotifier(tgBot)
	alerter := notify.NewOperatorAlerter(notifier, cfg.AdminChatID)
	invalidator := cache.NewRedisInvalidator(rdb)

	factory := vpn.NewCachingFactory(map[models.Protocol]vpn.Builder{
		models.ProtocolOutline: func(srv models.Server) (vpn.Client, error) {
			return outline.NewClient(srv.Endpoint, srv.CertSHA256)
		},
		models.ProtocolV2Ray: func(srv models.Server) (vpn.Client, error) {
			return v2ray.NewClient(srv.Endpoint, srv.APIKey), nil
		},
	})

	st := store.NewGormStore(db)
	sem := semaphore.NewWeighted(cfg.RemoteConcurrency)
	prov := worker.NewProvisioner(st, factory, sem)

	reconciler := worker.NewReconciler(st, prov, invalidator)
	enforcer := worker.NewEnforcer(st, prov, notifier, invalidator, cfg.TrafficGrace)
	sweeper := worker.NewSweeper(st, prov, notifier, invalidator, cfg.ExpiryGrace, cfg.ExemptUserIDs)

	sched := scheduler.New(alerter)
	sched.Run("reconcile", cfg.ReconcileInterval, reconciler.Run)
	sched.Run("traffic", cfg.TrafficInterval, enforcer.Run)
	sched.Run("expiry", cfg.ExpiryInterval, sweeper.Run)

	log.Println("Service started successfully")

	// The scheduler runs for process lifetime.
	select {}
}
