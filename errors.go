package ring

import (
	"github.com/ringdb/ring-go-driver/ringerr"
)

// Error kinds surfaced on connect and request futures. Match with
// errors.Is regardless of the attached message.
var (
	ErrNoHostsAvailable        = ringerr.ErrNoHostsAvailable
	ErrRequestQueueFull        = ringerr.ErrRequestQueueFull
	ErrUnableToSetKeyspace     = ringerr.ErrUnableToSetKeyspace
	ErrExecutionProfileInvalid = ringerr.ErrExecutionProfileInvalid
	ErrUnableToConnect         = ringerr.ErrUnableToConnect
	ErrUnableToClose           = ringerr.ErrUnableToClose
	ErrUnableToInit            = ringerr.ErrUnableToInit
)
