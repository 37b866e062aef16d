// Package protocol defines the message records exchanged with workers.
//
// Every message is a record (a string-keyed map once decoded) with an
// "op" field selecting the operation. Coordinator-initiated requests
// are answered with a single response record; "start_command" instead
// produces zero or more asynchronous update records plus exactly one
// completion record, all correlated by "command_id".
package protocol

// Operations sent by the coordinator.
const (
	OpKeepalive         = "keepalive"
	OpPrint             = "print"
	OpGetWorkerInfo     = "get_worker_info"
	OpSetWorkerSettings = "set_worker_settings"
	OpStartCommand      = "start_command"
	OpInterruptCommand  = "interrupt_command"
	OpShutdown          = "shutdown"
)

// Operations received from the worker.
const (
	OpResponse              = "response"
	OpUpdate                = "update"
	OpComplete              = "complete"
	OpUploadFileWrite       = "update_upload_file_write"
	OpUploadFileUtime       = "update_upload_file_utime"
	OpUploadFileClose       = "update_upload_file_close"
	OpUploadDirectoryWrite  = "update_upload_directory_write"
	OpUploadDirectoryUnpack = "update_upload_directory_unpack"
	OpReadFile              = "update_read_file"
	OpReadFileClose         = "update_read_file_close"
	OpWorkerKeepalive       = "keepalive"
	OpWorkerShutdownRequest = "shutdown"
)

// Record is a decoded wire message.
type Record = map[string]any

// Update is one key/value pair carried by a command update record.
type Update struct {
	Key   string
	Value any
}

// Keepalive builds a zero-payload liveness request.
func Keepalive() Record {
	return Record{"op": OpKeepalive}
}

// Print builds a request that asks the worker to log a message.
func Print(message string) Record {
	return Record{"op": OpPrint, "message": message}
}

// GetWorkerInfo builds the worker-info request.
func GetWorkerInfo() Record {
	return Record{"op": OpGetWorkerInfo}
}

// SetWorkerSettings builds the settings request sent at the start of
// the builder-list handshake.
func SetWorkerSettings(args map[string]any) Record {
	return Record{"op": OpSetWorkerSettings, "args": args}
}

// StartCommand builds a command dispatch request. builderName may be
// empty for handshake commands that run outside any builder.
func StartCommand(builderName, commandID, commandName string, args map[string]any) Record {
	rec := Record{
		"op":           OpStartCommand,
		"command_id":   commandID,
		"command_name": commandName,
		"args":         args,
	}
	if builderName != "" {
		rec["builder_name"] = builderName
	}
	return rec
}

// InterruptCommand builds an interrupt request correlated to an
// existing command id.
func InterruptCommand(builderName, commandID, why string) Record {
	return Record{
		"op":           OpInterruptCommand,
		"builder_name": builderName,
		"command_id":   commandID,
		"why":          why,
	}
}

// Shutdown builds the request asking the worker process to exit.
func Shutdown() Record {
	return Record{"op": OpShutdown}
}
