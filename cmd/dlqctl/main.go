package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"order-service/internal/config"
	"order-service/internal/repository"
	"order-service/internal/tasks"
)

// dlqctl inspects and replays dead-lettered tasks.
//
// Usage:
//
//	dlqctl -list                 list unresolved dead letters
//	dlqctl -show <uuid>          print one dead-letter record with its payload
//	dlqctl -task-id <uuid>       requeue a single dead task
//	dlqctl -all                  requeue every dead task
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	list := flag.Bool("list", false, "list unresolved dead letters")
	show := flag.String("show", "", "print the dead-letter record for this task id")
	taskID := flag.String("task-id", "", "requeue the dead task with this id")
	all := flag.Bool("all", false, "requeue all dead tasks")
	flag.Parse()

	if !*list && *show == "" && *taskID == "" && !*all {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadConfig()

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	coordinator := tasks.NewCoordinator(repository.NewTaskRepository(db))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case *list:
		deadLetters, err := coordinator.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list dead letters")
		}
		if len(deadLetters) == 0 {
			fmt.Println("no unresolved dead letters")
			return
		}
		for _, dl := range deadLetters {
			fmt.Printf("%s  %-28s  attempts=%d  since=%s  error=%s\n",
				dl.TaskID, dl.TaskType, dl.AttemptCount,
				dl.CreatedAt.Format(time.RFC3339), dl.LastError)
		}

	case *show != "":
		id, err := uuid.Parse(*show)
		if err != nil {
			log.Fatal().Err(err).Str("task_id", *show).Msg("Invalid task id")
		}
		dl, err := coordinator.Get(ctx, id)
		if err != nil {
			log.Fatal().Err(err).Str("task_id", *show).Msg("Failed to get dead letter")
		}
		fmt.Printf("task_id:  %s\ntype:     %s\nstatus:   %s\nattempts: %d\nsince:    %s\nerror:    %s\npayload:  %s\n",
			dl.TaskID, dl.TaskType, dl.Status, dl.AttemptCount,
			dl.CreatedAt.Format(time.RFC3339), dl.LastError, dl.Payload)

	case *taskID != "":
		id, err := uuid.Parse(*taskID)
		if err != nil {
			log.Fatal().Err(err).Str("task_id", *taskID).Msg("Invalid task id")
		}
		if err := coordinator.Retry(ctx, id); err != nil {
			log.Fatal().Err(err).Str("task_id", *taskID).Msg("Failed to requeue task")
		}
		fmt.Printf("requeued %s\n", id)

	case *all:
		requeued, err := coordinator.RetryAll(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to requeue dead tasks")
		}
		fmt.Printf("requeued %d tasks\n", requeued)
	}
}
