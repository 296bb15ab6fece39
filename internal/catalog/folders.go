package catalog

import (
	"context"
	"slices"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"go.uber.org/zap"
)

const (
	folderContentsPath    = "get/folder_contentsv2"
	rootFolderID          = "-1"
	defaultLineage        = "General"
	defaultMaxFolderNodes = 10000
)

// folderNode is one unit of work on the traversal stack: either a folder still to be listed
// or a leaf that was already listed.
type folderNode struct {
	folderID string
	leaf     item
	subject  string
	topic    string
	depth    int
}

// walkFolders traverses the folder-shaped catalog in preorder with an explicit stack.
// Only a failure to list the root folder is returned; nested failures are logged and skipped.
func (w *Walker) walkFolders(ctx context.Context, creds Credentials, src Source, logger *zap.Logger) ([]domain.Asset, error) {
	stack := []folderNode{{folderID: rootFolderID, subject: defaultLineage, topic: defaultLineage}}
	visited := make(map[string]struct{})
	var pending []pendingLeaf
	listed := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node.leaf != nil {
			pending = append(pending, pendingLeaf{raw: node.leaf, subject: node.subject, topic: node.topic})
			continue
		}

		if _, seen := visited[node.folderID]; seen {
			continue
		}
		visited[node.folderID] = struct{}{}

		listed++
		if listed > w.maxFolderNodes {
			logger.Warn("folder traversal truncated", zap.Int("maxFolderNodes", w.maxFolderNodes))
			break
		}

		children, err := w.getList(ctx, creds, src.APIBase, folderContentsPath, map[string]string{
			"course_id": src.CourseID,
			"parent_id": node.folderID,
			"start":     "-1",
		})
		if err != nil {
			if node.folderID == rootFolderID {
				logger.Warn("folder root listing failed", zap.Error(err))
				return nil, err
			}
			logger.Warn("folder listing failed", zap.String("folderId", node.folderID), zap.Error(err))
			continue
		}

		next := make([]folderNode, 0, len(children))
		for _, child := range children {
			if leafKind(child) != "FOLDER" {
				next = append(next, folderNode{leaf: child, subject: node.subject, topic: node.topic, depth: node.depth})
				continue
			}

			childID := child.str("id", "_id")
			if childID == "" {
				continue
			}
			name := child.str("Title", "title", "topic_name", "subject_name", "name")
			if name == "" {
				name = defaultLineage
			}

			subject := node.subject
			if node.depth == 0 {
				subject = name
			}
			next = append(next, folderNode{folderID: childID, subject: subject, topic: name, depth: node.depth + 1})
		}

		// Pushed in reverse so the first child is popped first.
		slices.Reverse(next)
		stack = append(stack, next...)
	}

	return w.resolveLeaves(ctx, creds, src, pending, logger), nil
}
