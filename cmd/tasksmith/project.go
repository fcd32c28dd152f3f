package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		description, _ := cmd.Flags().GetString("description")
		slug, err := st.CreateProject(cmd.Context(), args[0], description)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Created project %s\n", slug)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with task counts",
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		projects, err := st.Projects()
		if err != nil {
			fatalf("%v", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects found")
			return
		}
		for _, p := range projects {
			name := p.Name
			if name == "" {
				name = p.Path
			}
			fmt.Printf("%-20s %3d open / %3d total\n", name, p.Counts.Pending+p.Counts.InProgress, p.Counts.Total)
		}
	},
}

func init() {
	projectCreateCmd.Flags().StringP("description", "d", "", "Project description")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}
