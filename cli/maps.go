package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/anchormap/mapstore"
	"go.viam.com/anchormap/spatialmap"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatVec(xyz ...float64) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", xyz[0], xyz[1], xyz[2])
}

// ListMapsAction is the corresponding Action for 'maps list'.
func ListMapsAction(c *cli.Context) error {
	return withStore(c, func(e *env, store mapstore.Store) error {
		maps, err := store.List(c.Context)
		if err != nil {
			return errors.Wrap(err, "could not list maps")
		}
		e.logger.Debugw("listed maps", "count", len(maps))
		if len(maps) == 0 {
			printf(c.App.Writer, "No maps stored")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(c.App.Writer)
		t.AppendHeader(table.Row{"ID", "Name", "Creator", "Anchors", "Waypoints", "Updated"})
		t.AppendRows(lo.Map(maps, func(m *spatialmap.Map, _ int) table.Row {
			return table.Row{m.ID, m.Name, m.CreatorID, len(m.Anchors), len(m.Waypoints), formatTime(m.UpdatedAt)}
		}))
		t.Render()
		return nil
	})
}

// ShowMapAction is the corresponding Action for 'maps show'.
func ShowMapAction(c *cli.Context) error {
	id, err := requireArg(c, "map id")
	if err != nil {
		return err
	}
	return withStore(c, func(e *env, store mapstore.Store) error {
		m, err := store.Get(c.Context, id)
		if err != nil {
			return errors.Wrapf(err, "could not get map %q", id)
		}
		printf(c.App.Writer, "Map %q (id: %s, creator: %s, updated: %s)", m.Name, m.ID, m.CreatorID, formatTime(m.UpdatedAt))

		anchors := table.NewWriter()
		anchors.SetOutputMirror(c.App.Writer)
		anchors.SetTitle("Anchors")
		anchors.AppendHeader(table.Row{"Cloud ID", "Name", "Local", "Origin"})
		for _, a := range m.Anchors {
			anchors.AppendRow(table.Row{
				a.CloudID, a.Name, formatVec(a.LocalX, a.LocalY, a.LocalZ), lo.Ternary(a.IsOrigin(), "yes", ""),
			})
		}
		anchors.Render()

		if len(m.Waypoints) == 0 {
			return nil
		}
		waypoints := table.NewWriter()
		waypoints.SetOutputMirror(c.App.Writer)
		waypoints.SetTitle("Waypoints")
		waypoints.AppendHeader(table.Row{"ID", "Reference Anchor", "Local", "Connections"})
		for _, w := range m.Waypoints {
			local := "-"
			if w.HasLocalTranslation() {
				local = formatVec(w.LocalTranslation...)
			}
			waypoints.AppendRow(table.Row{w.ID, w.ReferenceAnchorID, local, len(w.ConnectedWaypointIDs)})
		}
		waypoints.Render()
		return nil
	})
}

// DeleteMapAction is the corresponding Action for 'maps delete'.
func DeleteMapAction(c *cli.Context) error {
	id, err := requireArg(c, "map id")
	if err != nil {
		return err
	}
	return withStore(c, func(e *env, store mapstore.Store) error {
		e.logger.Debugw("deleting map", "id", id)
		if err := store.Delete(c.Context, id); err != nil {
			if errors.Is(err, mapstore.ErrNotFound) {
				warningf(c.App.ErrWriter, "map %q does not exist", id)
				return nil
			}
			return errors.Wrapf(err, "could not delete map %q", id)
		}
		printf(c.App.Writer, "Deleted map %q", id)
		return nil
	})
}

// ImportMapAction is the corresponding Action for 'maps import'.
func ImportMapAction(c *cli.Context) error {
	path, err := requireArg(c, "map file")
	if err != nil {
		return err
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m spatialmap.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrapf(err, "could not parse map file %q", path)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	return withStore(c, func(e *env, store mapstore.Store) error {
		if err := store.Upsert(c.Context, &m); err != nil {
			return errors.Wrapf(err, "could not store map %q", m.ID)
		}
		printf(c.App.Writer, "Stored map %q with %d anchors and %d waypoints", m.ID, len(m.Anchors), len(m.Waypoints))
		return nil
	})
}

// ExportMapAction is the corresponding Action for 'maps export'.
func ExportMapAction(c *cli.Context) error {
	id, err := requireArg(c, "map id")
	if err != nil {
		return err
	}
	return withStore(c, func(e *env, store mapstore.Store) error {
		m, err := store.Get(c.Context, id)
		if err != nil {
			return errors.Wrapf(err, "could not get map %q", id)
		}
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", data)
		return nil
	})
}
