// Package protocol defines the messages exchanged between the sidebar panel
// and its host. Every message travels as a JSON object whose "command" field
// names the variant.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command discriminates message variants on the wire.
type Command string

// Panel to host commands.
const (
	CommandButtonClick            Command = "buttonClick"
	CommandAPIRequest             Command = "apiRequest"
	CommandUploadComponent        Command = "uploadComponent"
	CommandDownloadMetadataPrompt Command = "downloadMetadataPrompt"
	CommandShowError              Command = "showError"
	CommandStartServer            Command = "startServer"
)

// Host to panel commands.
const (
	CommandAPIResponse              Command = "apiResponse"
	CommandThemeChanged             Command = "themeChanged"
	CommandComponentUploaded        Command = "componentUploaded"
	CommandUploadError              Command = "uploadError"
	CommandMetadataPromptDownloaded Command = "metadataPromptDownloaded"
	CommandDownloadError            Command = "downloadError"
	CommandServerStatus             Command = "serverStatus"
)

// APICommand names a logical operation carried by an apiRequest.
type APICommand string

const (
	APIFetchComponents       APICommand = "fetchComponents"
	APIFetchComponentContent APICommand = "fetchComponentContent"
	APICheckComponentExists  APICommand = "checkComponentExists"
	APICheckHealth           APICommand = "checkHealth"
	APICheckMcpConnection    APICommand = "checkMcpConnection"
	APIFetchMetadataPrompt   APICommand = "fetchMetadataPrompt"
)

// KnownAPICommands lists every operation the host can serve.
var KnownAPICommands = []APICommand{
	APIFetchComponents,
	APIFetchComponentContent,
	APICheckComponentExists,
	APICheckHealth,
	APICheckMcpConnection,
	APIFetchMetadataPrompt,
}

// Known reports whether the host serves the API command.
func (c APICommand) Known() bool {
	for _, known := range KnownAPICommands {
		if c == known {
			return true
		}
	}
	return false
}

// Theme is the colour scheme propagated to the panel.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ServerState is reported through serverStatus messages.
type ServerState string

const (
	ServerStarting ServerState = "starting"
	ServerReady    ServerState = "ready"
	ServerError    ServerState = "error"
)

var (
	// ErrUnknownCommand is returned when a message carries an unrecognised command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingCommand is returned for objects without a command field.
	ErrMissingCommand = errors.New("message has no command")
)

// Message is implemented by every variant. The unexported marker keeps the
// set closed so type switches over it stay exhaustive.
type Message interface {
	Command() Command
	isMessage()
}

// ButtonClick is the panel's demo button press.
type ButtonClick struct{}

// APIRequest asks the host to perform an API command.
type APIRequest struct {
	ID         int64           `json:"id"`
	APICommand APICommand      `json:"apiCommand"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// UploadComponent carries a component documentation file to upload.
type UploadComponent struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// DownloadMetadataPrompt asks the host to save prompt content to disk.
type DownloadMetadataPrompt struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

// ShowError asks the host to surface an error notification.
type ShowError struct {
	Message string `json:"message,omitempty"`
}

// StartServer asks the host to bring the component service up.
type StartServer struct{}

// APIResponse answers an APIRequest with the same id.
type APIResponse struct {
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ThemeChanged propagates the editor theme.
type ThemeChanged struct {
	Theme Theme `json:"theme"`
}

// ComponentUploaded reports a successful upload.
type ComponentUploaded struct {
	ComponentName string `json:"componentName"`
}

// UploadError reports a failed upload.
type UploadError struct {
	Error string `json:"error"`
}

// MetadataPromptDownloaded reports where the prompt was written.
type MetadataPromptDownloaded struct {
	FilePath string `json:"filePath"`
}

// DownloadError reports a failed or cancelled save.
type DownloadError struct {
	Error string `json:"error"`
}

// ServerStatus reports component service startup progress.
type ServerStatus struct {
	Status ServerState `json:"status"`
	Error  string      `json:"error,omitempty"`
}

func (ButtonClick) Command() Command              { return CommandButtonClick }
func (APIRequest) Command() Command               { return CommandAPIRequest }
func (UploadComponent) Command() Command          { return CommandUploadComponent }
func (DownloadMetadataPrompt) Command() Command   { return CommandDownloadMetadataPrompt }
func (ShowError) Command() Command                { return CommandShowError }
func (StartServer) Command() Command              { return CommandStartServer }
func (APIResponse) Command() Command              { return CommandAPIResponse }
func (ThemeChanged) Command() Command             { return CommandThemeChanged }
func (ComponentUploaded) Command() Command        { return CommandComponentUploaded }
func (UploadError) Command() Command              { return CommandUploadError }
func (MetadataPromptDownloaded) Command() Command { return CommandMetadataPromptDownloaded }
func (DownloadError) Command() Command            { return CommandDownloadError }
func (ServerStatus) Command() Command             { return CommandServerStatus }

func (ButtonClick) isMessage()              {}
func (APIRequest) isMessage()               {}
func (UploadComponent) isMessage()          {}
func (DownloadMetadataPrompt) isMessage()   {}
func (ShowError) isMessage()                {}
func (StartServer) isMessage()              {}
func (APIResponse) isMessage()              {}
func (ThemeChanged) isMessage()             {}
func (ComponentUploaded) isMessage()        {}
func (UploadError) isMessage()              {}
func (MetadataPromptDownloaded) isMessage() {}
func (DownloadError) isMessage()            {}
func (ServerStatus) isMessage()             {}

// Encode serialises a message and stamps its command field.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	command, err := json.Marshal(msg.Command())
	if err != nil {
		return nil, err
	}
	fields["command"] = command
	return json.Marshal(fields)
}

// Decode parses a wire object into its concrete variant.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Command Command `json:"command"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if envelope.Command == "" {
		return nil, ErrMissingCommand
	}
	switch envelope.Command {
	case CommandButtonClick:
		return ButtonClick{}, nil
	case CommandStartServer:
		return StartServer{}, nil
	case CommandAPIRequest:
		return decodeAs[APIRequest](envelope.Command, data)
	case CommandUploadComponent:
		return decodeAs[UploadComponent](envelope.Command, data)
	case CommandDownloadMetadataPrompt:
		return decodeAs[DownloadMetadataPrompt](envelope.Command, data)
	case CommandShowError:
		return decodeAs[ShowError](envelope.Command, data)
	case CommandAPIResponse:
		return decodeAs[APIResponse](envelope.Command, data)
	case CommandThemeChanged:
		return decodeAs[ThemeChanged](envelope.Command, data)
	case CommandComponentUploaded:
		return decodeAs[ComponentUploaded](envelope.Command, data)
	case CommandUploadError:
		return decodeAs[UploadError](envelope.Command, data)
	case CommandMetadataPromptDownloaded:
		return decodeAs[MetadataPromptDownloaded](envelope.Command, data)
	case CommandDownloadError:
		return decodeAs[DownloadError](envelope.Command, data)
	case CommandServerStatus:
		return decodeAs[ServerStatus](envelope.Command, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, envelope.Command)
	}
}

func decodeAs[T Message](command Command, data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", command, err)
	}
	return v, nil
}
