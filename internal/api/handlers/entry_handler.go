package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type EntryHandler struct {
	s service.EntryService
}

func NewEntryHandler(service service.EntryService) *EntryHandler {
	return &EntryHandler{s: service}
}

func (h *EntryHandler) CreateEntry(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var ec transfer.EntryCreation
	if err := c.BodyParser(&ec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}

	entry, err := h.s.CreateEntry(c.Context(), userID, &ec)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *EntryHandler) UpdateEntry(c *fiber.Ctx) error {
	userID := GetUserID(c)
	entryID, err := c.ParamsInt("id")
	if err != nil {
		return errorResponse(c, apperr.Validation("entry id is not valid"))
	}

	var eu transfer.EntryUpdate
	if err := c.BodyParser(&eu); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}

	entry, err := h.s.UpdateEntry(c.Context(), userID, int64(entryID), &eu)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(entry)
}

func (h *EntryHandler) GetEntry(c *fiber.Ctx) error {
	userID := GetUserID(c)
	entryID, err := c.ParamsInt("id")
	if err != nil {
		return errorResponse(c, apperr.Validation("entry id is not valid"))
	}

	entry, err := h.s.EntryInfo(c.Context(), int64(entryID), userID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(entry)
}

func (h *EntryHandler) ListEntries(c *fiber.Ctx) error {
	entries, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(entries)
}

func (h *EntryHandler) RemoveEntry(c *fiber.Ctx) error {
	userID := GetUserID(c)
	entryID, err := c.ParamsInt("id")
	if err != nil {
		return errorResponse(c, apperr.Validation("entry id is not valid"))
	}

	if err := h.s.Remove(c.Context(), userID, int64(entryID)); err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
