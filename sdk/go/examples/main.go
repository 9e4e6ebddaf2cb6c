package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"PantryPilot/sdk/go/pantry"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/agent", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pantry.AgentAnswer{
			FinalAnswer: "Found 3 row(s).",
			DebugInfo:   []string{"sql_select on fridge_items succeeded"},
		})
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(pantry.Task{
				ID:        "task-demo",
				UserInput: "add 2 liters of milk",
				Status:    "pending",
				CreatedAt: time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pantry.Task{
			ID:        "task-demo",
			UserInput: "add 2 liters of milk",
			Status:    "succeeded",
			Result: &pantry.TaskResult{
				FinalAnswer: "1 row(s) inserted/affected.",
			},
			UpdatedAt: time.Now().Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := pantry.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	answer, err := client.Ask(ctx, pantry.AgentRequest{UserInput: "what is in my fridge?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent answered: %s\n", answer.FinalAnswer)

	created, err := client.SubmitTask(ctx, pantry.TaskSubmission{UserInput: "add 2 liters of milk"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (%s)\n", created.ID, created.Status)

	done, err := client.WaitForTask(ctx, created.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task finished: %s\n", done.Result.FinalAnswer)
}
