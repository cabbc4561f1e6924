package db

import (
	"context"
	"fmt"
	"time"

	"homedash/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ListArticles returns all articles, most recently modified first
func (db *DB) ListArticles(ctx context.Context) ([]models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.flavor.NewSelectBuilder()
	sb.Select("id", "title", "article", "modified").From("articles").OrderBy("modified").Desc()
	query, args := sb.Build()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		var (
			article  models.Article
			body     *string
			modified timestamp
		)
		if err := rows.Scan(&article.Id, &article.Title, &body, &modified); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		article.Article = body
		article.Modified = modified.Time
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return articles, nil
}

func (db *DB) CreateArticle(ctx context.Context, title string, body *string) (models.Article, error) {
	article := models.Article{
		Id:       uuid.New(),
		Title:    title,
		Article:  body,
		Modified: time.Now().UTC(),
	}

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto("articles").Cols("id", "title", "article", "modified").
		Values(article.Id.String(), article.Title, article.Article, article.Modified)
	query, args := ib.Build()

	if _, err := db.exec(ctx, query, args); err != nil {
		return models.Article{}, fmt.Errorf("insert error: %w", err)
	}

	log.WithFields(log.Fields{
		"id":    article.Id,
		"title": article.Title,
	}).Info("Article created")
	return article, nil
}

// UpdateArticle replaces title and body and bumps the modified timestamp
func (db *DB) UpdateArticle(ctx context.Context, id uuid.UUID, title string, body *string) error {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("articles").
		Set(ub.Assign("title", title), ub.Assign("article", body), ub.Assign("modified", time.Now().UTC())).
		Where(ub.Equal("id", id.String()))
	query, args := ub.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("update article %s: %w", id, err)
	}
	return nil
}

func (db *DB) DeleteArticle(ctx context.Context, id uuid.UUID) error {
	del := db.flavor.NewDeleteBuilder()
	del.DeleteFrom("articles").Where(del.Equal("id", id.String()))
	query, args := del.Build()

	if err := db.execOne(ctx, query, args); err != nil {
		return fmt.Errorf("delete article %s: %w", id, err)
	}

	log.WithFields(log.Fields{
		"id": id,
	}).Info("Article deleted")
	return nil
}
