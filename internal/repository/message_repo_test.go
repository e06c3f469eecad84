package repository

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/model"
)

func msgNode(id primitive.ObjectID, parent *primitive.ObjectID, role string) *model.Message {
	return &model.Message{ID: id, ParentID: parent, Role: role}
}

func TestPathToRoot(t *testing.T) {
	root := primitive.NewObjectID()
	childA := primitive.NewObjectID()
	childB := primitive.NewObjectID()
	grandA := primitive.NewObjectID()

	// root ── childA ── grandA
	//     └── childB
	headers := []*model.Message{
		msgNode(root, nil, "user"),
		msgNode(childA, &root, "assistant"),
		msgNode(childB, &root, "assistant"),
		msgNode(grandA, &childA, "user"),
	}

	t.Run("walks leaf to root in order", func(t *testing.T) {
		path := PathToRoot(headers, grandA)
		if len(path) != 3 {
			t.Fatalf("path length = %d, want 3", len(path))
		}
		wantIDs := []primitive.ObjectID{root, childA, grandA}
		for i, want := range wantIDs {
			if path[i].ID != want {
				t.Errorf("path[%d] = %v, want %v", i, path[i].ID, want)
			}
		}
	})

	t.Run("sibling branch excluded", func(t *testing.T) {
		path := PathToRoot(headers, childB)
		if len(path) != 2 {
			t.Fatalf("path length = %d, want 2", len(path))
		}
		for _, m := range path {
			if m.ID == childA || m.ID == grandA {
				t.Errorf("path contains node %v from the other branch", m.ID)
			}
		}
	})

	t.Run("leaf is root", func(t *testing.T) {
		path := PathToRoot(headers, root)
		if len(path) != 1 || path[0].ID != root {
			t.Errorf("path = %v, want just root", path)
		}
	})

	t.Run("unknown leaf yields empty path", func(t *testing.T) {
		if path := PathToRoot(headers, primitive.NewObjectID()); len(path) != 0 {
			t.Errorf("path = %v, want empty", path)
		}
	})

	t.Run("dangling parent stops the walk", func(t *testing.T) {
		orphanParent := primitive.NewObjectID()
		orphan := primitive.NewObjectID()
		withOrphan := append(headers, msgNode(orphan, &orphanParent, "user"))

		path := PathToRoot(withOrphan, orphan)
		if len(path) != 1 || path[0].ID != orphan {
			t.Errorf("path = %v, want just the orphan", path)
		}
	})
}
