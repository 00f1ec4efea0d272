package upload

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/photovault/svc/billing"
)

var (
	ErrInvalidRequest     = errors.New("invalid upload request")
	ErrUnsupportedType    = errors.New("unsupported content type")
	ErrStorageQuota       = fmt.Errorf("%w: storage", billing.ErrInsufficientCapacity)
	ErrAIGenerationsQuota = fmt.Errorf("%w: ai generations", billing.ErrInsufficientCapacity)
)
