package main

import (
	"time"

	"kanban-board/domain"
)

func demoTasks() []domain.Task {
	created := time.Date(2025, 1, 21, 10, 0, 0, 0, time.UTC)
	batch2 := time.Date(2026, 1, 26, 15, 45, 0, 0, time.UTC)
	return []domain.Task{
		{ID: "task-1", Title: "Papaprotect Deep Dive", Stage: domain.StageTodo, CreatedAt: created},
		{ID: "task-2", Title: "GEZ abmelden", Deadline: "2026-01-27", Stage: domain.StageTodo, CreatedAt: created},
		{
			ID:          "task-3",
			Title:       "✅ Dogcare Posts fertig (5x)",
			Description: "Australian Shepherd, Rottweiler, Knochenbruch, Arthrose, Epilepsie",
			Stage:       domain.StageDone,
			CreatedAt:   created,
		},
		{ID: "task-4", Title: "Angebot Policentransfer", Stage: domain.StageTodo, CreatedAt: created},
		{ID: "task-5", Title: "ACC Website Livegang", Deadline: "2026-01-30", Stage: domain.StageTodo, CreatedAt: created},
		{
			ID:          "task-6",
			Title:       "Dogcare Posts - Batch 2 (7x offen)",
			Description: "Patellaluxation, CT, Herzkrankheiten, Narkose, Fremdkörper, Lahmheit, Bauchoperation",
			Stage:       domain.StageTodo,
			CreatedAt:   batch2,
		},
	}
}
