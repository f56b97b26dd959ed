package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"harborview.app/internal/access"
	"harborview.app/internal/httpapi"
	"harborview.app/internal/identity"
	"harborview.app/internal/obs"
	"harborview.app/internal/session"
	"harborview.app/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("HARBORVIEW_PG_DSN")
	if dsn == "" {
		log.Fatal("missing HARBORVIEW_PG_DSN")
	}
	secret := os.Getenv("HARBORVIEW_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing HARBORVIEW_AUTH_SECRET")
	}
	httpAddr := envOr("HARBORVIEW_HTTP_ADDR", ":8080")
	grpcAddr := os.Getenv("HARBORVIEW_GRPC_ADDR")

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	codec, err := identity.NewTokenCodec(secret, "harborview")
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	resolver, err := access.NewResolver(store.Roles())
	if err != nil {
		log.Fatalf("role resolver: %v", err)
	}
	checker, err := access.NewChecker(store.Assignments(), nil)
	if err != nil {
		log.Fatalf("access checker: %v", err)
	}

	directory := identity.NewDirectory()
	seedAdmin(directory)

	registry := session.NewRegistry(func() (*session.Manager, error) {
		return session.NewManager(identity.NewClient(directory, codec), resolver)
	})
	defer registry.Close()

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(httpapi.Config{
		ReadyProbe: probe,
		Version:    version,
		Codec:      codec,
		Resolver:   resolver,
		Checker:    checker,
		Sessions:   registry,
	})

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting harborview-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var gs *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		gs = grpc.NewServer()
		httpapi.NewHealthServer(probe).Register(gs)
		log.Printf("Serving gRPC health on %s", grpcAddr)
		go func() {
			if err := gs.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if gs != nil {
		gs.GracefulStop()
	}
	_ = store.Close()
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// seedAdmin registers the bootstrap admin account, if configured. Without
// it a fresh deployment has no way to sign in as staff.
func seedAdmin(directory *identity.Directory) {
	email := os.Getenv("HARBORVIEW_ADMIN_EMAIL")
	password := os.Getenv("HARBORVIEW_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	_, err := directory.Register(email, password, map[string]string{
		access.MetadataRoleKey: access.RoleAdmin.String(),
	})
	if err != nil {
		log.Printf("seed admin %s: %v", email, err)
		return
	}
	log.Printf("Seeded admin account %s", email)
}
