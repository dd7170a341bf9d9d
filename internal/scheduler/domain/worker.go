package domain

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type WorkerStatus string

const (
	WorkerOnline      WorkerStatus = "online"
	WorkerOffline     WorkerStatus = "offline"
	WorkerBusy        WorkerStatus = "busy"
	WorkerMaintenance WorkerStatus = "maintenance"
)

// Worker is a compute node offering a fixed number of GPU execution slots.
//
// Occupancy is not stored on the worker; it is derived by counting running
// jobs assigned to it, so there is a single source of truth for load.
// Active is an administrative enable flag, independent of Status.
type Worker struct {
	ID        string
	Name      string
	Host      string
	Port      int
	SlotCount int

	Status WorkerStatus
	Active bool

	LastProbedAt *time.Time
	CreatedAt    time.Time
}

func NewWorker(name string, host string, port int, slotCount int) *Worker {
	return &Worker{
		ID:        uuid.NewString(),
		Name:      name,
		Host:      host,
		Port:      port,
		SlotCount: slotCount,
		Status:    WorkerOffline,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}

func (w *Worker) Address() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}
