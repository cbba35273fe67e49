package domain

// OrderFilter задаёт условия выборки списка заказов.
type OrderFilter struct {
	// Status == nil означает "все статусы".
	Status *OrderStatus
}

// PageMeta описывает метаданные постраничной выдачи.
type PageMeta struct {
	// Total — количество строк, подходящих под фильтр.
	Total int
	// TotalPages — количество страниц при текущем размере страницы.
	TotalPages  int
	CurrentPage int
	LastPage    int
}

// OrderPage — страница заказов с метаданными.
type OrderPage struct {
	Data []Order
	Meta PageMeta
}

// NewPageMeta считает метаданные страницы. lastPage зависит только от total и limit.
func NewPageMeta(total, page, limit int) PageMeta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PageMeta{
		Total:       total,
		TotalPages:  pages,
		CurrentPage: page,
		LastPage:    pages,
	}
}

// Offset возвращает смещение для страницы page (нумерация с 1).
func Offset(page, limit int) int {
	if page <= 1 || limit <= 0 {
		return 0
	}
	return (page - 1) * limit
}
