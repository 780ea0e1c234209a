package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgellow/medfix/internal/edge"
	"github.com/dgellow/medfix/internal/navigation"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q: want text, json or yaml", format)
}

// styles renders for w's color profile; writers that are not terminals get
// plain text.
type styles struct {
	route lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
}

func stylesFor(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		route: r.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		err:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func writeNext(w io.Writer, d navigation.Decision) error {
	_, err := fmt.Fprintf(w, "Next: %s\n", stylesFor(w).route.Render(d.String()))
	return err
}

// texter is implemented by values with a human-readable rendering.
type texter interface {
	writeText(w io.Writer) error
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputText, "":
		if t, ok := v.(texter); ok {
			return t.writeText(w)
		}
		_, err := fmt.Fprintln(w, v)
		return err
	default:
		return validateOutput(format)
	}
}

// actionOutput is printed after every screen action.
type actionOutput struct {
	Message string              `json:"message" yaml:"message"`
	Email   string              `json:"email,omitempty" yaml:"email,omitempty"`
	Role    string              `json:"role,omitempty" yaml:"role,omitempty"`
	Route   navigation.Decision `json:"route" yaml:"route"`
}

func (o actionOutput) writeText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, o.Message); err != nil {
		return err
	}
	return writeNext(w, o.Route)
}

type whoamiOutput struct {
	Authenticated bool                `json:"authenticated" yaml:"authenticated"`
	Email         string              `json:"email,omitempty" yaml:"email,omitempty"`
	UserID        string              `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Role          string              `json:"role,omitempty" yaml:"role,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Route         navigation.Decision `json:"route" yaml:"route"`
}

func (o whoamiOutput) writeText(w io.Writer) error {
	if !o.Authenticated {
		if _, err := fmt.Fprintln(w, "Not signed in"); err != nil {
			return err
		}
		return writeNext(w, o.Route)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Email:\t%s\n", o.Email)
	fmt.Fprintf(tw, "User ID:\t%s\n", o.UserID)
	fmt.Fprintf(tw, "Role:\t%s\n", valueOr(o.Role, "(none)"))
	if o.ExpiresAt != nil {
		fmt.Fprintf(tw, "Session expires:\t%s\n", o.ExpiresAt.Local().Format(time.RFC1123))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeNext(w, o.Route)
}

type requestOutput struct {
	Request *edge.MaintenanceRequest `json:"request" yaml:"request"`
}

func (o requestOutput) writeText(w io.Writer) error {
	r := o.Request
	_, err := fmt.Fprintf(w, "Request %s filed for %s (%s)\n", valueOr(r.ID, "(pending id)"), r.DeviceName, r.Status)
	return err
}

type requestListOutput struct {
	Requests []edge.MaintenanceRequest `json:"requests" yaml:"requests"`
}

func (o requestListOutput) writeText(w io.Writer) error {
	if len(o.Requests) == 0 {
		_, err := fmt.Fprintln(w, "No maintenance requests")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDEVICE\tSTATUS\tCREATED\tENGINEER")
	for _, r := range o.Requests {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.DeviceName, r.Status, created, valueOr(r.AssignedEngineer, "-"))
	}
	return tw.Flush()
}

type envOutput struct {
	BackendURL       string   `json:"backend_url" yaml:"backend_url"`
	AnonKeySet       bool     `json:"anon_key_set" yaml:"anon_key_set"`
	UsedPlaceholders bool     `json:"used_placeholders" yaml:"used_placeholders"`
	ProfileStorage   string   `json:"profile_storage" yaml:"profile_storage"`
	SessionFile      string   `json:"session_file,omitempty" yaml:"session_file,omitempty"`
	ResetRedirect    string   `json:"reset_redirect" yaml:"reset_redirect"`
	Errors           []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (o envOutput) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Backend URL:\t%s\n", o.BackendURL)
	fmt.Fprintf(tw, "Anon key:\t%s\n", yesNo(o.AnonKeySet, "set", "missing"))
	fmt.Fprintf(tw, "Profile storage:\t%s\n", o.ProfileStorage)
	fmt.Fprintf(tw, "Session file:\t%s\n", valueOr(o.SessionFile, "(not persisted)"))
	fmt.Fprintf(tw, "Reset redirect:\t%s\n", o.ResetRedirect)
	if err := tw.Flush(); err != nil {
		return err
	}

	st := stylesFor(w)
	for _, e := range o.Errors {
		fmt.Fprintln(w, st.err.Render("error: "+e))
	}
	for _, warn := range o.Warnings {
		fmt.Fprintln(w, st.warn.Render("warning: "+warn))
	}
	return nil
}

type profileOutput struct {
	ID    string `json:"id" yaml:"id"`
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Role  string `json:"role,omitempty" yaml:"role,omitempty"`
}

func (o profileOutput) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", valueOr(o.Name, "(not set)"))
	fmt.Fprintf(tw, "Email:\t%s\n", o.Email)
	fmt.Fprintf(tw, "Role:\t%s\n", valueOr(o.Role, "(not set)"))
	return tw.Flush()
}

// demoOutput lists the steps of a scripted session.
type demoOutput struct {
	Steps []demoStep `json:"steps" yaml:"steps"`
}

type demoStep struct {
	Action string              `json:"action" yaml:"action"`
	Result string              `json:"result" yaml:"result"`
	Route  navigation.Decision `json:"route" yaml:"route"`
}

func (o demoOutput) writeText(w io.Writer) error {
	route := stylesFor(w).route
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, s := range o.Steps {
		fmt.Fprintf(tw, "%d.\t%s\t%s\t-> %s\n", i+1, s.Action, s.Result, route.Render(s.Route.String()))
	}
	return tw.Flush()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
