package ports

import "github.com/frak-labs/framesession/core"

// BackupCodec turns a backup payload into the opaque string handed to the parent
type BackupCodec interface {
	Encode(payload *core.BackupPayload) (string, error)
	Decode(backup string) (*core.BackupPayload, error)
}
