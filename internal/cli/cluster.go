package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewInstancesCmd создаёт группу команд для записей живости.
func NewInstancesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect scheduler instances",
	}

	cmd.AddCommand(newInstancesListCmd(clientFn, outputFn))

	return cmd
}

func newInstancesListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduler instances and their liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances()
			if err != nil {
				return err
			}

			headers := []string{"INSTANCE", "STATUS", "LAST_CHECKIN", "INTERVAL", "DEADLINE", "RECOVERER"}
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{
					inst.InstanceID,
					instanceStatus(inst),
					inst.LastCheckinTime,
					inst.CheckinInterval,
					inst.FailureDeadline,
					inst.RecovererID,
				}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}
}

func instanceStatus(inst InstanceResponse) string {
	var status string
	switch {
	case inst.Failed && inst.RecovererID != "":
		status = "RECOVERING"
	case inst.Failed:
		status = "FAILED"
	default:
		status = "ALIVE"
	}
	if inst.Self {
		status += " (self)"
	}
	return status
}

// NewFiredCmd создаёт группу команд для эпизодов срабатывания.
func NewFiredCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fired",
		Short: "Inspect fired triggers",
	}

	cmd.AddCommand(newFiredListCmd(clientFn, outputFn))

	return cmd
}

func newFiredListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListFiredOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fired triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.InstanceID != "" && opts.Job != "" {
				return fmt.Errorf("--instance and --job are mutually exclusive")
			}

			client := clientFn()
			out := outputFn()

			fired, err := client.ListFiredTriggers(opts)
			if err != nil {
				return err
			}

			headers := []string{"FIRE_ID", "INSTANCE", "TRIGGER", "JOB", "STATE", "FIRED_AT", "FLAGS"}
			rows := make([][]string, len(fired))
			for i, ft := range fired {
				rows[i] = []string{
					ft.FireInstanceID,
					ft.SchedulerInstanceID,
					ft.TriggerGroup + "." + ft.TriggerName,
					ft.JobGroup + "." + ft.JobName,
					ft.State,
					ft.FireTimestamp,
					firedFlags(ft),
				}
			}

			out.Print(headers, rows, fired)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Filter by scheduler instance ID")
	cmd.Flags().StringVar(&opts.Job, "job", "", "Filter by job key (group.name)")

	return cmd
}

func firedFlags(ft FiredTriggerResponse) string {
	var flags []string
	if ft.JobIsStateful {
		flags = append(flags, "stateful")
	}
	if ft.JobRequestsRecovery {
		flags = append(flags, "recovery")
	}
	if ft.TriggerIsVolatile {
		flags = append(flags, "volatile")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// NewRecoverCmd создаёт команду ручного запуска восстановления.
func NewRecoverCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run a cluster recovery cycle on the target node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.RunRecovery()
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Recovery cycle completed on %s", res.InstanceID))
			out.Print(
				[]string{"RECOVERED", "SKIPPED", "REFIRED", "RELEASED", "DELETED"},
				[][]string{{
					strings.Join(res.Recovered, ","),
					strings.Join(res.Skipped, ","),
					strconv.Itoa(res.Refired),
					strconv.Itoa(res.Released),
					strconv.Itoa(res.Deleted),
				}},
				res,
			)
			return nil
		},
	}
}
