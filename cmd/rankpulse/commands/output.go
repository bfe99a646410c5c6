package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/pulse/schedule"
)

// colorStatus renders a run status the way the server banner colors state
func colorStatus(s execution.Status) string {
	switch s {
	case execution.StatusRunning:
		return pterm.LightCyan(string(s))
	case execution.StatusCompleted:
		return pterm.Green(string(s))
	case execution.StatusFailed:
		return pterm.Red(string(s))
	case execution.StatusStopped:
		return pterm.Yellow(string(s))
	}
	return string(s)
}

func runRows(runs []*execution.Run) pterm.TableData {
	data := pterm.TableData{{"ID", "TENANT", "JOB", "STATUS", "PROGRESS", "STAGE", "STARTED", "DURATION"}}
	for _, r := range runs {
		data = append(data, []string{
			r.ID,
			r.TenantID,
			r.JobType.String(),
			colorStatus(r.Status),
			formatProgress(r),
			r.Stage,
			formatTime(r.StartedAt),
			formatDurationMS(r.DurationMS),
		})
	}
	return data
}

func printRuns(runs []*execution.Run) error {
	if len(runs) == 0 {
		pterm.Info.Println("No runs")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(runRows(runs)).Render()
}

// printRun prints one run in detail
func printRun(r *execution.Run) {
	pterm.Printfln("Run:        %s", r.ID)
	pterm.Printfln("Tenant:     %s", r.TenantID)
	pterm.Printfln("Job type:   %s (%s)", r.JobType, r.Trigger)
	if r.DefinitionID != "" {
		pterm.Printfln("Schedule:   %s", r.DefinitionID)
	}
	pterm.Printfln("Status:     %s", colorStatus(r.Status))
	pterm.Printfln("Stage:      %s", r.Stage)
	pterm.Printfln("Progress:   %s", formatProgress(r))
	pterm.Printfln("Updated:    %d items, %d errors", r.ItemsUpdated, r.ErrorCount)
	pterm.Printfln("Started:    %s", formatTime(r.StartedAt))
	if r.CompletedAt != nil {
		pterm.Printfln("Completed:  %s (%s)", formatTime(*r.CompletedAt), formatDurationMS(r.DurationMS))
	} else if r.EstimatedDurationSeconds > 0 {
		pterm.Printfln("Estimate:   ~%s", time.Duration(r.EstimatedDurationSeconds)*time.Second)
	}
	if r.Message != "" {
		pterm.Printfln("Message:    %s", r.Message)
	}
}

func printSchedules(defs []*schedule.Definition) error {
	if len(defs) == 0 {
		pterm.Info.Println("No schedules")
		return nil
	}
	data := pterm.TableData{{"ID", "TENANT", "JOB", "AT", "DAYS", "ENABLED", "LAST RUN"}}
	for _, d := range defs {
		last := "-"
		if d.LastRunAt != nil {
			last = formatTime(*d.LastRunAt)
			if d.LastRunStatus != "" {
				last += " " + string(d.LastRunStatus)
			}
		}
		enabled := pterm.Green("yes")
		if !d.Enabled {
			enabled = pterm.Gray("no")
		}
		data = append(data, []string{
			d.ID, d.TenantID, d.JobType.String(), d.TimeOfDay, formatDays(d.Weekdays), enabled, last,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printTenants(tenants []crawl.Tenant) error {
	if len(tenants) == 0 {
		pterm.Info.Println("No tenants")
		return nil
	}
	data := pterm.TableData{{"ID", "NAME", "DOMAIN", "CREATED"}}
	for _, t := range tenants {
		data = append(data, []string{t.ID, t.Name, t.Domain, formatTime(t.CreatedAt)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatProgress(r *execution.Run) string {
	if r.ItemsTotal <= 0 {
		return fmt.Sprintf("%d", r.ItemsProcessed)
	}
	return fmt.Sprintf("%d/%d (%d%%)", r.ItemsProcessed, r.ItemsTotal, r.Percentage())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDurationMS(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).Round(time.Second / 10).String()
}

var dayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// formatDays renders weekdays as "daily", "weekdays" or "mon,wed,fri"
func formatDays(days []time.Weekday) string {
	var set [7]bool
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
		}
	}
	all, workweek := true, true
	var names []string
	for i, on := range set {
		if on {
			names = append(names, dayNames[i])
		} else {
			all = false
		}
		weekend := i == int(time.Sunday) || i == int(time.Saturday)
		if on == weekend {
			workweek = false
		}
	}
	switch {
	case all:
		return "daily"
	case workweek:
		return "weekdays"
	case len(names) == 0:
		return "-"
	}
	return strings.Join(names, ",")
}
