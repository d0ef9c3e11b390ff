package contracts

import (
	"context"

	"github.com/julienschmidt/httprouter"
)

type Handler interface {
	RegisterRoutes(*httprouter.Router)
}

// Worker is a background component started with the server and stopped,
// with a deadline, during shutdown.
type Worker interface {
	Start()
	Stop(ctx context.Context) error
}
