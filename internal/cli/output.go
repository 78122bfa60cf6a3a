package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/authview"
)

type viewJSON struct {
	Profile               *authview.Profile     `json:"profile"`
	UserContext           *authview.UserContext `json:"user_context"`
	Roles                 []string              `json:"roles"`
	Capabilities          []string              `json:"capabilities"`
	IsEmployee            bool                  `json:"is_employee"`
	IsServiceOwner        bool                  `json:"is_service_owner"`
	IsContentPublisher    bool                  `json:"is_content_publisher"`
	IsModerator           bool                  `json:"is_moderator"`
	IsDirectoryMaintainer bool                  `json:"is_directory_maintainer"`
	IsSystemAdmin         bool                  `json:"is_system_admin"`
	IsLoading             bool                  `json:"is_loading"`
}

func printView(w io.Writer, vm authview.ViewModel, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(viewJSON{
			Profile:               vm.Profile,
			UserContext:           vm.UserContext,
			Roles:                 nonNil(vm.Roles),
			Capabilities:          nonNil(vm.Capabilities.Capabilities()),
			IsEmployee:            vm.IsEmployee,
			IsServiceOwner:        vm.IsServiceOwner,
			IsContentPublisher:    vm.IsContentPublisher,
			IsModerator:           vm.IsModerator,
			IsDirectoryMaintainer: vm.IsDirectoryMaintainer,
			IsSystemAdmin:         vm.IsSystemAdmin,
			IsLoading:             vm.IsLoading,
		})
	}

	uc := vm.UserContext
	if uc == nil {
		_, err := fmt.Fprintln(w, "Not signed in.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", uc.ID)
	fmt.Fprintf(tw, "Name\t%s\n", uc.Name)
	fmt.Fprintf(tw, "Email\t%s\n", uc.Email)
	fmt.Fprintf(tw, "Role\t%s\n", uc.ProgressiveRole)
	fmt.Fprintf(tw, "Segment\t%s\n", uc.Segment)
	if uc.Domain != "" {
		fmt.Fprintf(tw, "Domain\t%s\n", uc.Domain)
	}
	fmt.Fprintf(tw, "Roles\t%s\n", strings.Join(vm.Roles, ", "))
	fmt.Fprintf(tw, "Capabilities\t%s\n", strings.Join(vm.Capabilities.Capabilities(), ", "))
	fmt.Fprintf(tw, "Flags\t%s\n", strings.Join(flags(vm), ", "))
	return tw.Flush()
}

func flags(vm authview.ViewModel) []string {
	var out []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"employee", vm.IsEmployee},
		{"service_owner", vm.IsServiceOwner},
		{"content_publisher", vm.IsContentPublisher},
		{"moderator", vm.IsModerator},
		{"directory_maintainer", vm.IsDirectoryMaintainer},
		{"system_admin", vm.IsSystemAdmin},
	} {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
