// Command slots answers one availability question against the local store
// and prints the answer as JSON.
//
//	slots [-config path] <command> [flags]
//
// Commands: slots, check, earliest, upcoming, summary, export, book, status,
// occupancies, sync.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slotwise/internal/aggregate"
	"slotwise/internal/booking"
	"slotwise/internal/clock"
	"slotwise/internal/config"
	"slotwise/internal/db"
	"slotwise/internal/events"
	"slotwise/internal/export"
	"slotwise/internal/model"
	"slotwise/internal/slotcache"
	"slotwise/internal/slots"
)

type app struct {
	cfg       *config.Config
	db        *db.DB
	engine    *slots.Engine
	source    aggregate.SlotSource
	agg       *aggregate.Engine
	committer *booking.Committer
	bus       *events.Bus
	out       io.Writer
	logger    zerolog.Logger
}

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	global := flag.NewFlagSet("slots", flag.ExitOnError)
	configPath := global.String("config", os.Getenv("SLOTWISE_CONFIG_PATH"), "path to config.yaml")
	global.Usage = usage(global)
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := newApp(*configPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init")
	}
	defer cleanup()

	if err := a.run(ctx, global.Arg(0), global.Args()[1:]); err != nil {
		cleanup()
		logger.Fatal().Err(err).Str("command", global.Arg(0)).Msg("command failed")
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "usage: slots [-config path] <slots|check|earliest|upcoming|summary|export|book|status|occupancies|sync> [flags]\n")
		fs.PrintDefaults()
	}
}

func newApp(configPath string, logger zerolog.Logger) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger = logger.Level(cfg.LogLevel())

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus(logger)
	engine := slots.NewEngine(database, database, clock.System{}, logger)

	var source aggregate.SlotSource = engine
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		cache := slotcache.New(rdb, engine, cfg.CacheTTL(), logger)
		cache.Subscribe(bus)
		source = cache
	}

	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = database.Close()
	}

	limits := aggregate.Limits{
		DefaultHorizonDays: cfg.Engine.DefaultHorizonDays,
		MaxHorizonDays:     cfg.Engine.MaxHorizonDays,
		MaxSummaryDays:     cfg.Engine.MaxSummaryDays,
		Concurrency:        cfg.Engine.Concurrency,
	}
	return &app{
		cfg:       cfg,
		db:        database,
		engine:    engine,
		source:    source,
		agg:       aggregate.New(source, engine, limits, logger),
		committer: booking.NewCommitter(database, engine, clock.System{}, cfg.Policy, bus, logger),
		bus:       bus,
		out:       os.Stdout,
		logger:    logger,
	}, cleanup, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "slots":
		return a.slots(ctx, args)
	case "check":
		return a.check(ctx, args)
	case "earliest":
		return a.earliest(ctx, args)
	case "upcoming":
		return a.upcoming(ctx, args)
	case "summary":
		return a.summary(ctx, args, false)
	case "export":
		return a.summary(ctx, args, true)
	case "book":
		return a.book(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "occupancies":
		return a.occupancies(ctx, args)
	case "sync":
		return a.sync(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) slots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	resource := fs.String("resource", "", "resource id")
	date := fs.String("date", "", "local date, YYYY-MM-DD (default: today)")
	duration := fs.Int("duration", 30, "duration in minutes")
	availableOnly := fs.Bool("available", false, "print available slots only")
	grouped := fs.Bool("grouped", false, "group consecutive available slots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resource == "" {
		return errors.New("-resource is required")
	}

	d, err := a.dateOrToday(ctx, *resource, *date)
	if err != nil {
		return err
	}
	list, err := a.source.ComputeAvailableSlots(ctx, *resource, d, *duration)
	if err != nil {
		return err
	}

	switch {
	case *grouped:
		groups := slots.FindConsecutive(list)
		out := make([][]slots.SlotInfo, len(groups))
		for i, g := range groups {
			out[i] = slots.ToSlotInfo(g)
		}
		return a.print(out)
	case *availableOnly:
		return a.print(slots.ToSlotInfo(slots.AvailableOnly(list)))
	default:
		return a.print(list)
	}
}

func (a *app) check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	resource := fs.String("resource", "", "resource id")
	at := fs.String("at", "", "start instant, RFC 3339")
	duration := fs.Int("duration", 30, "duration in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("-at: %w", err)
	}
	res, err := a.engine.IsAvailableAt(ctx, *resource, start, *duration)
	if err != nil {
		return err
	}
	return a.print(res)
}

type serviceFlags struct {
	resources    *string
	duration     *int
	bufferBefore *int
	bufferAfter  *int
}

func addServiceFlags(fs *flag.FlagSet) serviceFlags {
	return serviceFlags{
		resources:    fs.String("resources", "", "comma-separated resource ids (default: all active)"),
		duration:     fs.Int("duration", 30, "service duration in minutes"),
		bufferBefore: fs.Int("buffer-before", 0, "buffer before the service in minutes"),
		bufferAfter:  fs.Int("buffer-after", 0, "buffer after the service in minutes"),
	}
}

func (s serviceFlags) ids() []string {
	if strings.TrimSpace(*s.resources) == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(*s.resources, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s serviceFlags) service() model.Service {
	return model.Service{
		DurationMinutes:     *s.duration,
		BufferBeforeMinutes: *s.bufferBefore,
		BufferAfterMinutes:  *s.bufferAfter,
	}
}

func (a *app) earliest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("earliest", flag.ContinueOnError)
	svc := addServiceFlags(fs)
	horizon := fs.Int("horizon", a.cfg.Engine.DefaultHorizonDays, "days to search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slot, err := a.agg.GetEarliestSlot(ctx, svc.ids(), svc.service(), *horizon)
	if err != nil {
		return err
	}
	return a.print(slot)
}

func (a *app) upcoming(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upcoming", flag.ContinueOnError)
	svc := addServiceFlags(fs)
	horizon := fs.Int("horizon", a.cfg.Engine.DefaultHorizonDays, "days to search")
	limit := fs.Int("max", 10, "maximum number of slots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.agg.ListUpcomingSlots(ctx, svc.ids(), svc.service(), *horizon, *limit)
	if err != nil {
		return err
	}
	return a.print(list)
}

func (a *app) summary(ctx context.Context, args []string, toFile bool) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	svc := addServiceFlags(fs)
	from := fs.String("from", "", "first date, YYYY-MM-DD")
	to := fs.String("to", "", "last date, YYYY-MM-DD")
	outPath := fs.String("out", "availability.xlsx", "spreadsheet path (export only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start, err := model.ParseDate(*from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	end, err := model.ParseDate(*to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	s, err := a.agg.GetAvailabilitySummary(ctx, svc.ids(), svc.service(), start, end)
	if err != nil {
		return err
	}
	if !toFile {
		return a.print(s)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := export.WriteSummary(s, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info().Str("path", *outPath).Int("days", len(s.Days)).Msg("summary exported")
	return nil
}

func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	resource := fs.String("resource", "", "resource id")
	at := fs.String("at", "", "start instant, RFC 3339")
	duration := fs.Int("duration", 30, "duration in minutes")
	status := fs.String("status", string(model.StatusPending), "initial status")
	reference := fs.String("reference", "", "external booking reference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("-at: %w", err)
	}

	out, err := a.committer.Commit(ctx, booking.Request{
		ResourceID:      *resource,
		Start:           start,
		DurationMinutes: *duration,
		Status:          model.OccupancyStatus(*status),
		Reference:       *reference,
	})
	if err != nil {
		return err
	}
	return a.print(out)
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	id := fs.String("id", "", "occupancy id")
	status := fs.String("set", "", "new status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	out, err := a.committer.UpdateStatus(ctx, *id, model.OccupancyStatus(*status))
	if err != nil {
		return err
	}
	return a.print(out)
}

func (a *app) occupancies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("occupancies", flag.ContinueOnError)
	resource := fs.String("resource", "", "resource id")
	from := fs.String("from", "", "first date, YYYY-MM-DD")
	to := fs.String("to", "", "last date, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := model.ParseDate(*from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	end, err := model.ParseDate(*to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}
	list, err := a.db.ListOccupancies(ctx, *resource, start.In(time.UTC), end.AddDays(1).In(time.UTC))
	if err != nil {
		return err
	}
	return a.print(list)
}

func (a *app) sync(ctx context.Context) error {
	sc, err := config.LoadSchedulesConfig(a.cfg.SchedulesConfigPath)
	if err != nil {
		return err
	}
	if err := a.db.SyncSchedulesFromConfig(ctx, sc); err != nil {
		return err
	}
	if err := a.bus.PublishJSON(events.RulesChanged, events.RulesChange{}); err != nil {
		return err
	}
	return a.print(map[string]string{"applied": sc.String()})
}

func (a *app) dateOrToday(ctx context.Context, resourceID, value string) (model.Date, error) {
	if value == "" {
		return a.source.LocalToday(ctx, resourceID)
	}
	return model.ParseDate(value)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
