package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/gidakurdu/internal/compose"
	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/pipeline"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/triage"
)

// --- records command ---

var (
	recordsCity     string
	recordsDate     string
	recordsCategory string
	recordsNear     bool
	recordsDigest   bool
	recordsLimit    int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Sync and list recalls matching your preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if _, err := a.orch.OnForeground(ctx); err != nil {
			var runErr *pipeline.RunError
			if errors.As(err, &runErr) {
				return errors.New(runErr.Message)
			}
			return err
		}

		a.orch.SetCityFilter(recordsCity)
		a.orch.SetCategoryFilter(recordsCategory)
		if recordsDate != "" {
			day, err := time.ParseInLocation("2006-01-02", recordsDate, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", recordsDate)
			}
			a.orch.SetDateFilter(day)
		}
		if recordsNear {
			profile, err := a.prefs.Profile(ctx)
			if err != nil {
				return err
			}
			near := profile.Nearby()
			if near == nil {
				return errors.New("no home location set; use 'gidakurdu profile set --lat --lon'")
			}
			a.orch.SetNearbyFilter(near.Latitude, near.Longitude, near.RadiusKm)
		}

		records := a.orch.CurrentRecords()

		if recordsDigest {
			entries, err := a.dispatcher.Notifications(ctx)
			if err != nil {
				return err
			}
			fmt.Print(compose.Compose(records, entries, time.Now(), recordsLimit).Markdown())
			return nil
		}

		if len(records) == 0 {
			fmt.Println("No records match.")
			if cities := a.orch.AvailableCities(); len(cities) > 0 {
				fmt.Printf("Cities with records: %s\n", strings.Join(cities, ", "))
			}
			return nil
		}

		favorites, err := a.prefs.Favorites(ctx)
		if err != nil {
			return err
		}
		starred := make(map[string]bool, len(favorites))
		for _, id := range favorites {
			starred[id] = true
		}

		counts := triage.Tally(records)
		bold.Printf("%d records (high %d, medium %d, low %d)\n\n", len(records),
			counts[recall.RiskHigh], counts[recall.RiskMedium], counts[recall.RiskLow])
		for i, r := range records {
			if recordsLimit > 0 && i == recordsLimit {
				fmt.Printf("... and %d more\n", len(records)-recordsLimit)
				break
			}
			printRecord(r, starred[r.ID])
		}
		return nil
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsCity, "city", "", "Only records from this city")
	recordsCmd.Flags().StringVar(&recordsDate, "date", "", "Only records detected on this day (YYYY-MM-DD)")
	recordsCmd.Flags().StringVar(&recordsCategory, "category", "", "Only records in this product group")
	recordsCmd.Flags().BoolVar(&recordsNear, "near", false, "Only records near the profile's home location")
	recordsCmd.Flags().BoolVar(&recordsDigest, "digest", false, "Print a Markdown digest instead of a list")
	recordsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 0, "Show at most n records")
}

func printRecord(r recall.Record, favorite bool) {
	star := " "
	if favorite {
		star = "*"
	}
	risk := r.Risk.Label()
	switch r.Risk {
	case recall.RiskHigh:
		risk = red.Sprint(risk)
	case recall.RiskMedium:
		risk = yellow.Sprint(risk)
	}
	fmt.Printf("%s %s  %-8s %s / %s\n", star, r.DetectedAt.Local().Format("02.01.2006"), risk, r.ProductName, r.FirmName)
	city := r.Location.City
	if r.Location.District != nil {
		city += ", " + *r.Location.District
	}
	fmt.Printf("    %s | %s\n", city, r.ProductGroup)
	if r.Description != "" {
		fmt.Printf("    %s\n", r.Description)
	}
	fmt.Printf("    id: %s\n", r.ID)
}

// --- prefs command ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.prefs.Get(cmd.Context())
		if err != nil {
			return err
		}
		printPrefs(p)
		return nil
	},
}

var (
	prefsNotifications bool
	prefsMinRisk       string
	prefsInterval      string
	prefsCities        []string
	prefsTheme         string
)

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change preferences; unset flags keep their value",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		p, err := a.prefs.Get(ctx)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("notifications") {
			p.NotificationsEnabled = prefsNotifications
		}
		if flags.Changed("min-risk") {
			tier, err := recall.ParseRiskTier(prefsMinRisk)
			if err != nil {
				return err
			}
			p.MinimumRisk = tier
		}
		if flags.Changed("interval") {
			p.RefreshInterval = prefs.RefreshInterval(prefsInterval)
		}
		if flags.Changed("cities") {
			p.SelectedCities = prefsCities
		}
		if flags.Changed("theme") {
			p.Theme = prefs.Theme(prefsTheme)
		}

		stored, err := a.prefs.Update(ctx, p)
		if err != nil {
			return err
		}
		if stored.NotificationsEnabled {
			if perm, err := a.perms.RequestAuthorization(ctx); err == nil && perm != notify.Granted {
				yellow.Printf("Notifications are enabled but permission is %s.\n", perm)
			}
		}
		green.Println("Preferences saved.")
		printPrefs(stored)
		return nil
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.prefs.Update(cmd.Context(), prefs.Defaults())
		if err != nil {
			return err
		}
		printPrefs(p)
		return nil
	},
}

func init() {
	prefsSetCmd.Flags().BoolVar(&prefsNotifications, "notifications", false, "Enable alerts for new records")
	prefsSetCmd.Flags().StringVar(&prefsMinRisk, "min-risk", "", "Minimum risk: low, medium or high")
	prefsSetCmd.Flags().StringVar(&prefsInterval, "interval", "", "Background refresh: hourly, daily or weekly")
	prefsSetCmd.Flags().StringSliceVar(&prefsCities, "cities", nil, "Comma-separated cities; empty means all")
	prefsSetCmd.Flags().StringVar(&prefsTheme, "theme", "", "Theme: system, light or dark")

	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsResetCmd)
}

func printPrefs(p prefs.Preferences) {
	cities := "all"
	if len(p.SelectedCities) > 0 {
		cities = strings.Join(p.SelectedCities, ", ")
	}
	fmt.Printf("  Notifications: %t\n", p.NotificationsEnabled)
	fmt.Printf("  Minimum risk: %s\n", p.MinimumRisk.Label())
	fmt.Printf("  Refresh interval: %s\n", p.RefreshInterval.Label())
	fmt.Printf("  Cities: %s\n", cities)
	fmt.Printf("  Theme: %s\n", p.Theme)
}

// --- profile command ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change the user profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.prefs.Profile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("  Name: %s\n", p.Name)
		fmt.Printf("  Email: %s\n", p.Email)
		if near := p.Nearby(); near != nil {
			fmt.Printf("  Home: %.4f, %.4f (radius %.0f km)\n", near.Latitude, near.Longitude, near.RadiusKm)
		} else {
			fmt.Println("  Home: not set")
		}
		return nil
	},
}

var (
	profileName   string
	profileEmail  string
	profileLat    float64
	profileLon    float64
	profileRadius float64
)

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change profile fields; unset flags keep their value",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		p, err := a.prefs.Profile(ctx)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("name") {
			p.Name = profileName
		}
		if flags.Changed("email") {
			p.Email = profileEmail
		}
		if flags.Changed("lat") {
			p.HomeLat = &profileLat
		}
		if flags.Changed("lon") {
			p.HomeLon = &profileLon
		}
		if flags.Changed("radius") {
			p.RadiusKm = profileRadius
		}
		if err := a.prefs.UpdateProfile(ctx, p); err != nil {
			return err
		}
		green.Println("Profile saved.")
		return nil
	},
}

func init() {
	profileSetCmd.Flags().StringVar(&profileName, "name", "", "Display name")
	profileSetCmd.Flags().StringVar(&profileEmail, "email", "", "Email address")
	profileSetCmd.Flags().Float64Var(&profileLat, "lat", 0, "Home latitude")
	profileSetCmd.Flags().Float64Var(&profileLon, "lon", 0, "Home longitude")
	profileSetCmd.Flags().Float64Var(&profileRadius, "radius", 0, "Nearby radius in km")

	profileCmd.AddCommand(profileSetCmd)
}

// --- notifications command ---

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Manage the alert log and permission",
}

var notificationsUnread bool

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.dispatcher.Notifications(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No alerts yet.")
			return nil
		}
		for _, e := range entries {
			if notificationsUnread && e.Read {
				continue
			}
			marker := " "
			if !e.Read {
				marker = green.Sprint("•")
			}
			fmt.Printf("%s [%s] %s / %s (%s)\n", marker, e.ID, e.Record.ProductName, e.Record.FirmName, humanize.Time(e.CreatedAt))
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark an alert as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.dispatcher.MarkRead(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, notify.ErrEntryNotFound) {
				return fmt.Errorf("alert %s not found", args[0])
			}
			return err
		}
		fmt.Printf("Marked %s as read.\n", args[0])
		return nil
	},
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every logged alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.dispatcher.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Alert log cleared.")
		return nil
	},
}

var notificationsPermissionCmd = &cobra.Command{
	Use:   "permission [granted|denied|not_determined|request]",
	Short: "Show or set the alert permission",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		switch {
		case len(args) == 0:
		case args[0] == "request":
			if _, err := a.perms.RequestAuthorization(ctx); err != nil {
				return err
			}
		default:
			perm, err := notify.ParsePermission(args[0])
			if err != nil {
				return err
			}
			if err := a.perms.Set(ctx, perm); err != nil {
				return err
			}
		}

		perm, err := a.perms.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Permission: %s\n", perm)
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "Only unread alerts")

	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsClearCmd)
	notificationsCmd.AddCommand(notificationsPermissionCmd)
}

// --- favorites command ---

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List favorited record IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.prefs.Favorites(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No favorites. Add one with: gidakurdu favorites toggle [id]")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Add or remove a favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		on, err := a.prefs.ToggleFavorite(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		state := "removed from"
		if on {
			state = "added to"
		}
		fmt.Printf("%s %s favorites.\n", args[0], state)
		return nil
	},
}

func init() {
	favoritesCmd.AddCommand(favoritesToggleCmd)
}

// --- notify-test command ---

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a sample alert through the configured alerter",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sample := recall.NewRecord(recall.Fields{
			Announced:   time.Now().Format("02.01.2006"),
			FirmName:    "Örnek Gıda",
			ProductName: "Deneme ürünü",
			Description: "Bu bir deneme bildirimidir",
			City:        "Ankara",
			DetectedAt:  time.Now(),
		}, triage.Classify)

		if err := a.alerter.Present(cmd.Context(), notify.NewAlert(sample)); err != nil {
			return fmt.Errorf("sending sample alert: %w", err)
		}
		green.Println("Sample alert sent.")
		return nil
	},
}
