package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"quiz-engine/internal/domain"
)

var contentExtensions = []string{".yaml", ".yml", ".json"}

// DirQuizLoader reads authored quizzes from <dir>/<quizID>.{yaml,yml,json}.
// JSON content is parsed by the YAML decoder.
type DirQuizLoader struct {
	dir string
}

func NewDirQuizLoader(dir string) *DirQuizLoader {
	return &DirQuizLoader{dir: dir}
}

func (l *DirQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quizID == "" || strings.ContainsAny(quizID, `/\`) || strings.HasPrefix(quizID, ".") {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	for _, ext := range contentExtensions {
		data, err := os.ReadFile(filepath.Join(l.dir, quizID+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("read quiz %s: %w", quizID, err)
		}
		return decodeQuiz(quizID, data)
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// List returns the quiz ids present in the content directory.
func (l *DirQuizLoader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		for _, known := range contentExtensions {
			if ext == known {
				ids = append(ids, strings.TrimSuffix(entry.Name(), ext))
				break
			}
		}
	}
	return ids, nil
}

func decodeQuiz(quizID string, data []byte) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := yaml.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: quiz %s: %v", domain.ErrValidation, quizID, err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	if quiz.ID != quizID {
		return domain.Quiz{}, domain.Invalid("Quiz.ID", "file %s declares id %q", quizID, quiz.ID)
	}
	return quiz, nil
}
